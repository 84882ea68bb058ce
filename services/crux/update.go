// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crux

import (
	"strings"

	"github.com/google/uuid"
)

// ============================================================================
// Reply classification
// ============================================================================

// replyClass is the coarse interpretation of a free-text answer to a
// comparison question.
type replyClass int

const (
	replyOther replyClass = iota
	replyFirst
	replySecond
	replyBoth
	replyNeither
)

// classifyReply maps an answer onto the comparison outcomes. Matching is
// keyword-based so both the quick-reply strings and free-text variants
// ("the first one, definitely") land in the right class. Anything
// unrecognized is treated as free text and handled by lexical nudging.
func classifyReply(reply string) replyClass {
	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, "first"):
		return replyFirst
	case strings.Contains(lower, "second"):
		return replySecond
	case strings.Contains(lower, "both"):
		return replyBoth
	case strings.Contains(lower, "neither"), strings.Contains(lower, "none"):
		return replyNeither
	default:
		return replyOther
	}
}

// ============================================================================
// Featurization
// ============================================================================

// noveltyDecay scales how quickly repeated evidence against the same node
// discounts further updates.
const noveltyDecay = 0.1

// entailmentScore measures how much of a hypothesis's vocabulary the reply
// engages: |reply ∩ node| / |node|.
func entailmentScore(replyTokens, nodeTokens map[string]struct{}) float64 {
	if len(nodeTokens) == 0 {
		return 0.0
	}
	return float64(overlapCount(nodeTokens, replyTokens)) / float64(len(nodeTokens))
}

// specificityScore measures how much of the reply is about the node: the
// same overlap as a fraction of the reply's vocabulary.
func specificityScore(replyTokens, nodeTokens map[string]struct{}) float64 {
	if len(replyTokens) == 0 {
		return 0.0
	}
	return float64(overlapCount(nodeTokens, replyTokens)) / float64(len(replyTokens))
}

// noveltyScore discounts updates against nodes that already carry evidence:
// 1 / (1 + decay * priorCount).
func noveltyScore(priorCount int) float64 {
	return 1.0 / (1.0 + noveltyDecay*float64(priorCount))
}

// evidenceTargets extracts the node ids a piece of evidence was aimed at.
// The payload may hold ids in memory form or as strings after a wire round
// trip; both are normalized.
func evidenceTargets(ev Evidence) []string {
	raw, ok := ev.Payload["targets"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		return v
	case []uuid.UUID:
		out := make([]string, len(v))
		for i, id := range v {
			out[i] = id.String()
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// priorEvidenceCount counts evidence entries whose targets include the node.
func priorEvidenceCount(log []Evidence, id uuid.UUID) int {
	want := id.String()
	n := 0
	for _, ev := range log {
		for _, t := range evidenceTargets(ev) {
			if t == want {
				n++
				break
			}
		}
	}
	return n
}

// updateMagnitude combines entailment, specificity, and novelty into a
// log-odds step size rescaled into [MagnitudeMin, MagnitudeMax].
func updateMagnitude(cfg *Config, entailment, specificity, novelty float64) float64 {
	raw := weightEntailment*entailment + weightSpecificity*specificity + weightNovelty*novelty
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	return cfg.MagnitudeMin + raw*(cfg.MagnitudeMax-cfg.MagnitudeMin)
}

// ============================================================================
// Belief revision
// ============================================================================

// shiftBelief moves a node's probability in log-odds space by
// direction*magnitude, clamped to ±LogOddsClamp.
func shiftBelief(cfg *Config, bs *BeliefState, id uuid.UUID, direction, magnitude float64) {
	p, ok := bs.Probs[id]
	if !ok {
		return
	}
	l := logit(p, cfg.LogOddsClamp) + direction*magnitude
	if l > cfg.LogOddsClamp {
		l = cfg.LogOddsClamp
	}
	if l < -cfg.LogOddsClamp {
		l = -cfg.LogOddsClamp
	}
	bs.Probs[id] = logistic(l)
}

// updateFromAnswer revises beliefs from an answer to a question aimed at
// targets. Recognized comparison answers move the two targets against each
// other; free text nudges every active node by its lexical entailment with
// the reply, damped when the reply is negated. The evidence log is read for
// novelty discounting only; callers append the new evidence themselves.
// Ends with renormalize + rerank so the distribution stays a distribution.
func updateFromAnswer(cfg *Config, bs *BeliefState, evidenceLog []Evidence, targets []uuid.UUID, reply string) {
	class := classifyReply(reply)
	replyTokens := tokenSet(reply)

	magnitudeFor := func(id uuid.UUID) float64 {
		node := nodeByID(bs, id)
		if node == nil {
			return cfg.MagnitudeMin
		}
		nodeTokens := tokenSet(node.Text)
		ent := entailmentScore(replyTokens, nodeTokens)
		spec := specificityScore(replyTokens, nodeTokens)
		nov := noveltyScore(priorEvidenceCount(evidenceLog, id))
		return updateMagnitude(cfg, ent, spec, nov)
	}

	if len(targets) >= 2 && class != replyOther {
		first, second := targets[0], targets[1]
		switch class {
		case replyFirst:
			shiftBelief(cfg, bs, first, directionChosen, magnitudeFor(first))
			shiftBelief(cfg, bs, second, directionSibling, magnitudeFor(second))
		case replySecond:
			shiftBelief(cfg, bs, second, directionChosen, magnitudeFor(second))
			shiftBelief(cfg, bs, first, directionSibling, magnitudeFor(first))
		case replyBoth:
			shiftBelief(cfg, bs, first, directionBoth, magnitudeFor(first))
			shiftBelief(cfg, bs, second, directionBoth, magnitudeFor(second))
		case replyNeither:
			shiftBelief(cfg, bs, first, directionNeither, magnitudeFor(first))
			shiftBelief(cfg, bs, second, directionNeither, magnitudeFor(second))
		}
	} else {
		direction := directionNudge
		if containsNegation(replyTokens) {
			direction = -directionNudge
		}
		for _, i := range activeIndices(bs) {
			node := &bs.Nodes[i]
			nodeTokens := tokenSet(node.Text)
			ent := entailmentScore(replyTokens, nodeTokens)
			if ent <= 0 {
				continue
			}
			spec := specificityScore(replyTokens, nodeTokens)
			nov := noveltyScore(priorEvidenceCount(evidenceLog, node.NodeID))
			mag := updateMagnitude(cfg, ent, spec, nov)
			shiftBelief(cfg, bs, node.NodeID, direction, mag)
		}
	}

	renormalize(bs)
	rerank(bs)
}
