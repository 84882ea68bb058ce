// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crux

import (
	"fmt"

	"github.com/google/uuid"
)

// questionSnippetLen bounds how much of a hypothesis text appears inside a
// comparison question.
const questionSnippetLen = 50

// compareOptions are the quick replies offered with a two-hypothesis
// comparison question. classifyReply keys off these.
var compareOptions = []string{"First option", "Second option", "Both equally", "Neither"}

// exploreOptions are the quick replies for the open-ended fallback question
// used when there are not yet two hypotheses to compare.
var exploreOptions = []string{"Emotional impact", "Practical consequences", "Values conflict", "Other"}

// buildAskUser constructs the question for the current frontier. With two or
// more active hypotheses it pits the top two against each other; otherwise
// it falls back to an open exploration question.
func buildAskUser(cfg *Config, state *AgentState) AskUserAction {
	bs := &state.Belief
	if len(bs.TopIDs) >= 2 {
		first := nodeByID(bs, bs.TopIDs[0])
		second := nodeByID(bs, bs.TopIDs[1])
		return AskUserAction{
			ActionID: uuid.New(),
			Question: fmt.Sprintf("Which resonates more with your experience: '%s...' or '%s...'?",
				truncateText(first.Text, questionSnippetLen),
				truncateText(second.Text, questionSnippetLen)),
			Targets:      []uuid.UUID{first.NodeID, second.NodeID},
			QuickOptions: append([]string(nil), compareOptions...),
			Rationale:    "Comparing top hypotheses",
		}
	}

	return AskUserAction{
		ActionID:     uuid.New(),
		Question:     "What aspect of this situation feels most significant to you?",
		QuickOptions: append([]string(nil), exploreOptions...),
		Rationale:    "Exploring core concerns",
	}
}

// spawnCount derives how many hypotheses a Hypothesize action should add
// from the current entropy, clamped to [1, max].
func spawnCount(ent float64, max int) int {
	k := int(ent)
	if k < 1 {
		k = 1
	}
	if k > max {
		k = max
	}
	return k
}

// enumerateActions lists every action admissible in the current state, in
// fixed catalog order. The scorer's stable sort preserves this order for
// tied utilities, so earlier entries win ties.
//
// Gates:
//   - AskUser requires remaining question budget.
//   - Hypothesize fires on a diffuse frontier (high entropy, low coverage)
//     with room left under the hypothesis cap.
//   - ClusterThemes fires when over a third of active pairs are redundant.
//   - CounterfactualTest needs two hypotheses and at least two revisions of
//     history to test against.
//   - EvidenceRequest fires while uncertainty is high and little evidence
//     has accumulated.
//   - SilenceCheck becomes admissible late, once the frontier is stable.
//   - ConfidenceUpdate is always admissible.
//   - Stop is only offered once budgets are exhausted.
func enumerateActions(cfg *Config, state *AgentState) []Action {
	bs := &state.Belief
	ent := entropy(bs)
	active := activeCount(bs)
	actions := make([]Action, 0, 8)

	budgetExhausted := state.BudgetUsed >= cfg.MaxUserQueries || state.Revision >= cfg.MaxSteps

	if !budgetExhausted {
		actions = append(actions, buildAskUser(cfg, state))
	}

	if ent > cfg.HypothesizeEntropy && coverage(bs) < cfg.HypothesizeCoverage && active < cfg.MaxHypotheses {
		actions = append(actions, HypothesizeAction{
			ActionID: uuid.New(),
			SpawnK:   spawnCount(ent, cfg.MaxHypothesisSpawn),
		})
	}

	if redundancyRatio(bs, cfg.ClusterRadius) > cfg.RedundancyThreshold {
		actions = append(actions, ClusterThemesAction{ActionID: uuid.New()})
	}

	if active >= 2 && state.Revision >= 2 {
		actions = append(actions, CounterfactualTestAction{
			ActionID: uuid.New(),
			TargetA:  bs.TopIDs[0],
			TargetB:  bs.TopIDs[1],
		})
	}

	if ent > cfg.EvidenceRequestEntropy && len(state.EvidenceLog) < cfg.EvidenceRequestCap {
		kind := evidenceRequestCycle[state.Revision%len(evidenceRequestCycle)]
		actions = append(actions, EvidenceRequestAction{
			ActionID:    uuid.New(),
			RequestKind: kind,
		})
	}

	if state.Revision >= 3 && active >= 2 {
		actions = append(actions, SilenceCheckAction{ActionID: uuid.New()})
	}

	actions = append(actions, ConfidenceUpdateAction{ActionID: uuid.New()})

	if budgetExhausted {
		actions = append(actions, StopAction{
			ActionID: uuid.New(),
			Reason:   ExitBudget,
		})
	}

	return actions
}
