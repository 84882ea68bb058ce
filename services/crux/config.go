// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crux

import "time"

// Featurization weights for belief updates. These are heuristic values
// tuned by hand, not fitted quantities; they must sum to 1 so the raw
// magnitude stays in [0, 1] before rescaling.
const (
	// weightEntailment weights how much of a node's vocabulary the reply
	// contains.
	weightEntailment = 0.4

	// weightSpecificity weights the overlap relative to reply length, so a
	// short pointed reply moves beliefs more than a rambling one.
	weightSpecificity = 0.3

	// weightNovelty weights down nodes that already accumulated evidence.
	weightNovelty = 0.3
)

// Update direction coefficients, applied in log-odds space and scaled by
// the featurized magnitude. Heuristic values.
const (
	// directionChosen boosts the target the reply selected.
	directionChosen = 1.0

	// directionSibling damps the target the reply passed over.
	directionSibling = -0.7

	// directionBoth mildly boosts all targets on a "both equally" reply.
	directionBoth = 0.4

	// directionNeither strongly damps all targets on a "neither" reply.
	directionNeither = -1.2

	// directionNudge is the small signed nudge for untargeted nodes whose
	// vocabulary the reply entails or contradicts.
	directionNudge = 0.25
)

// maxNodeTextLen caps hypothesis text, including merged concatenations.
const maxNodeTextLen = 400

// Config holds the engine's tunable parameters.
//
// The EVI fractions for internal actions are heuristic constants, not
// measured quantities; they exist as named fields so deployments can tune
// them without touching scoring code.
type Config struct {
	// TauHigh is the top-probability threshold for a confident stop
	// (default: 0.80).
	TauHigh float64

	// DeltaGap is the required gap between the top two probabilities for a
	// confident stop (default: 0.25).
	DeltaGap float64

	// EpsilonEVI stops the session when the best candidate action's
	// expected information gain falls below it (default: 0.05).
	EpsilonEVI float64

	// LambdaCost scales action cost against information gain (default: 1.0).
	LambdaCost float64

	// AskUserCost is the cost of interrupting a real person (default: 1.0).
	AskUserCost float64

	// InternalCost is the cost of any internal action (default: 0.1).
	InternalCost float64

	// MaxUserQueries is the question budget per session (default: 3).
	MaxUserQueries int

	// MaxSteps is the total step budget per session (default: 8).
	MaxSteps int

	// MaxHypotheses caps the number of tracked nodes (default: 6).
	MaxHypotheses int

	// MaxHypothesisSpawn caps how many nodes a single Hypothesize action
	// may add (default: 3).
	MaxHypothesisSpawn int

	// MaxChainedActions bounds the internal action chain within one Step
	// call, guarding against selection cycles (default: 16).
	MaxChainedActions int

	// MergeRadius is the lexical Jaccard similarity at or above which two
	// active nodes are considered near-duplicates and merged (default: 0.92).
	MergeRadius float64

	// ClusterRadius is the softer similarity at which ClusterThemes
	// consolidates theme-level overlap; it also defines the redundancy
	// ratio that gates the action (default: 0.5).
	ClusterRadius float64

	// RedundancyThreshold is the fraction of redundant active pairs above
	// which ClusterThemes becomes admissible (default: 1/3).
	RedundancyThreshold float64

	// RetireProb is the probability below which a node accrues a
	// low-confidence streak (default: 0.05).
	RetireProb float64

	// RetireStreak is the consecutive-pass count that retires a node
	// (default: 3).
	RetireStreak int

	// LogOddsClamp bounds log-odds magnitude to avoid saturation at
	// probability 0 or 1 (default: 10).
	LogOddsClamp float64

	// MagnitudeMin and MagnitudeMax bound the rescaled update magnitude
	// (defaults: 0.1, 2.0).
	MagnitudeMin float64
	MagnitudeMax float64

	// EVIFractionHypothesize is the entropy fraction credited to
	// Hypothesize (default: 0.2).
	EVIFractionHypothesize float64

	// EVIFractionCluster is the entropy fraction credited to ClusterThemes
	// (default: 0.15).
	EVIFractionCluster float64

	// EVIFractionConfidence is the entropy fraction credited to
	// ConfidenceUpdate (default: 0.1).
	EVIFractionConfidence float64

	// EVIFractionDefault is the entropy fraction credited to every other
	// internal action (default: 0.05).
	EVIFractionDefault float64

	// HypothesizeEntropy gates Hypothesize: entropy must exceed it
	// (default: 1.5).
	HypothesizeEntropy float64

	// HypothesizeCoverage gates Hypothesize: coverage must be below it
	// (default: 0.6).
	HypothesizeCoverage float64

	// EvidenceRequestEntropy gates EvidenceRequest (default: 1.0).
	EvidenceRequestEntropy float64

	// EvidenceRequestCap stops EvidenceRequest from being offered once
	// this much evidence has accumulated (default: 3).
	EvidenceRequestCap int

	// GenerateTimeout bounds every call to the text-generation
	// collaborator (default: 20s). On timeout the call site falls back to
	// deterministic content.
	GenerateTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TauHigh:                0.80,
		DeltaGap:               0.25,
		EpsilonEVI:             0.05,
		LambdaCost:             1.0,
		AskUserCost:            1.0,
		InternalCost:           0.1,
		MaxUserQueries:         3,
		MaxSteps:               8,
		MaxHypotheses:          6,
		MaxHypothesisSpawn:     3,
		MaxChainedActions:      16,
		MergeRadius:            0.92,
		ClusterRadius:          0.5,
		RedundancyThreshold:    1.0 / 3.0,
		RetireProb:             0.05,
		RetireStreak:           3,
		LogOddsClamp:           10,
		MagnitudeMin:           0.1,
		MagnitudeMax:           2.0,
		EVIFractionHypothesize: 0.2,
		EVIFractionCluster:     0.15,
		EVIFractionConfidence:  0.1,
		EVIFractionDefault:     0.05,
		HypothesizeEntropy:     1.5,
		HypothesizeCoverage:    0.6,
		EvidenceRequestEntropy: 1.0,
		EvidenceRequestCap:     3,
		GenerateTimeout:        20 * time.Second,
	}
}

// withDefaults fills zero or invalid fields with production defaults so a
// partially specified Config stays usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.TauHigh <= 0 || c.TauHigh > 1 {
		c.TauHigh = d.TauHigh
	}
	if c.DeltaGap <= 0 || c.DeltaGap > 1 {
		c.DeltaGap = d.DeltaGap
	}
	if c.EpsilonEVI <= 0 {
		c.EpsilonEVI = d.EpsilonEVI
	}
	if c.LambdaCost <= 0 {
		c.LambdaCost = d.LambdaCost
	}
	if c.AskUserCost <= 0 {
		c.AskUserCost = d.AskUserCost
	}
	if c.InternalCost <= 0 {
		c.InternalCost = d.InternalCost
	}
	if c.MaxUserQueries <= 0 {
		c.MaxUserQueries = d.MaxUserQueries
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.MaxHypotheses <= 0 {
		c.MaxHypotheses = d.MaxHypotheses
	}
	if c.MaxHypothesisSpawn <= 0 {
		c.MaxHypothesisSpawn = d.MaxHypothesisSpawn
	}
	if c.MaxChainedActions <= 0 {
		c.MaxChainedActions = d.MaxChainedActions
	}
	if c.MergeRadius <= 0 || c.MergeRadius > 1 {
		c.MergeRadius = d.MergeRadius
	}
	if c.ClusterRadius <= 0 || c.ClusterRadius >= c.MergeRadius {
		c.ClusterRadius = d.ClusterRadius
	}
	if c.RedundancyThreshold <= 0 || c.RedundancyThreshold >= 1 {
		c.RedundancyThreshold = d.RedundancyThreshold
	}
	if c.RetireProb <= 0 || c.RetireProb >= 1 {
		c.RetireProb = d.RetireProb
	}
	if c.RetireStreak <= 0 {
		c.RetireStreak = d.RetireStreak
	}
	if c.LogOddsClamp <= 0 {
		c.LogOddsClamp = d.LogOddsClamp
	}
	if c.MagnitudeMin <= 0 {
		c.MagnitudeMin = d.MagnitudeMin
	}
	if c.MagnitudeMax <= c.MagnitudeMin {
		c.MagnitudeMax = d.MagnitudeMax
	}
	if c.EVIFractionHypothesize <= 0 {
		c.EVIFractionHypothesize = d.EVIFractionHypothesize
	}
	if c.EVIFractionCluster <= 0 {
		c.EVIFractionCluster = d.EVIFractionCluster
	}
	if c.EVIFractionConfidence <= 0 {
		c.EVIFractionConfidence = d.EVIFractionConfidence
	}
	if c.EVIFractionDefault <= 0 {
		c.EVIFractionDefault = d.EVIFractionDefault
	}
	if c.HypothesizeEntropy <= 0 {
		c.HypothesizeEntropy = d.HypothesizeEntropy
	}
	if c.HypothesizeCoverage <= 0 {
		c.HypothesizeCoverage = d.HypothesizeCoverage
	}
	if c.EvidenceRequestEntropy <= 0 {
		c.EvidenceRequestEntropy = d.EvidenceRequestEntropy
	}
	if c.EvidenceRequestCap <= 0 {
		c.EvidenceRequestCap = d.EvidenceRequestCap
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = d.GenerateTimeout
	}

	return c
}
