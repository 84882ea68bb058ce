// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crux

import (
	"sort"

	"github.com/google/uuid"
)

// compareOptionPriors are the outcome priors used when simulating answers
// to a comparison question, aligned index-for-index with compareOptions:
// the two leading hypotheses are equally likely to be picked, with small
// residual mass on "both" and "neither".
var compareOptionPriors = []float64{0.4, 0.4, 0.1, 0.1}

// scoredAction pairs an admissible action with its expected value of
// information, cost, and net utility.
type scoredAction struct {
	Action  Action
	EVI     float64
	Cost    float64
	Utility float64
}

// simulateAnswerEntropy applies the real belief-update rule to a scratch
// copy of the frontier and returns the entropy that would result from the
// given reply. Housekeeping (merge, retire) is not simulated; only the
// probability shift matters for expected information.
func simulateAnswerEntropy(cfg *Config, state *AgentState, ask AskUserAction, reply string) float64 {
	scratch := BeliefState{
		Nodes:      make([]CruxNode, len(state.Belief.Nodes)),
		Probs:      make(map[uuid.UUID]float64, len(state.Belief.Probs)),
		TopIDs:     append([]uuid.UUID(nil), state.Belief.TopIDs...),
		LowStreaks: map[uuid.UUID]int{},
	}
	copy(scratch.Nodes, state.Belief.Nodes)
	for id, p := range state.Belief.Probs {
		scratch.Probs[id] = p
	}

	updateFromAnswer(cfg, &scratch, state.EvidenceLog, ask.Targets, reply)
	return entropy(&scratch)
}

// askUserEVI estimates the expected entropy reduction of asking the current
// question: each canonical outcome is simulated through the update rule and
// weighted by its prior. Negative estimates (an answer that would diffuse
// the frontier) floor at zero.
func askUserEVI(cfg *Config, state *AgentState, ask AskUserAction) float64 {
	before := entropy(&state.Belief)

	expected := 0.0
	for i, opt := range compareOptions {
		expected += compareOptionPriors[i] * simulateAnswerEntropy(cfg, state, ask, opt)
	}

	evi := before - expected
	if evi < 0 {
		return 0.0
	}
	return evi
}

// actionEVI returns the expected value of information for one action.
// AskUser is the only action scored by simulation; internal actions are
// credited a fixed fraction of current entropy, reflecting that they
// reorganize the frontier rather than inject outside information. Stop
// gains nothing.
func actionEVI(cfg *Config, state *AgentState, a Action) float64 {
	switch a.Kind() {
	case ActionAskUser:
		return askUserEVI(cfg, state, a.(AskUserAction))
	case ActionHypothesize:
		return cfg.EVIFractionHypothesize * entropy(&state.Belief)
	case ActionClusterThemes:
		return cfg.EVIFractionCluster * entropy(&state.Belief)
	case ActionConfidenceUpdate:
		return cfg.EVIFractionConfidence * entropy(&state.Belief)
	case ActionStop:
		return 0.0
	default:
		return cfg.EVIFractionDefault * entropy(&state.Belief)
	}
}

// actionCost prices an action: interrupting a person is an order of
// magnitude more expensive than any internal move.
func actionCost(cfg *Config, a Action) float64 {
	if a.Kind() == ActionAskUser {
		return cfg.AskUserCost
	}
	return cfg.InternalCost
}

// scoreActions ranks admissible actions by net utility EVI - lambda*cost,
// highest first. The sort is stable, so actions tied on utility keep their
// catalog order and the earlier entry wins.
func scoreActions(cfg *Config, state *AgentState, actions []Action) []scoredAction {
	scored := make([]scoredAction, len(actions))
	for i, a := range actions {
		evi := actionEVI(cfg, state, a)
		cost := actionCost(cfg, a)
		scored[i] = scoredAction{
			Action:  a,
			EVI:     evi,
			Cost:    cost,
			Utility: evi - cfg.LambdaCost*cost,
		}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Utility > scored[b].Utility
	})
	return scored
}
