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

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCruxNode(t *testing.T) {
	node := NewCruxNode("a fresh hypothesis")
	assert.NotEqual(t, uuid.Nil, node.NodeID)
	assert.Equal(t, "a fresh hypothesis", node.Text)
	assert.Equal(t, NodeActive, node.Status)
	assert.Nil(t, node.DiagnosticPrior)

	long := strings.Repeat("x", maxNodeTextLen+100)
	node = NewCruxNode(long)
	assert.Len(t, node.Text, maxNodeTextLen, "node text is capped")
}

func TestAgentStateCloneIsDeep(t *testing.T) {
	prior := 0.4
	node := NewCruxNode("original hypothesis")
	node.DiagnosticPrior = &prior
	node.Supports = []string{"evidence a"}

	state := &AgentState{
		StateID:  uuid.New(),
		Revision: 2,
		JournalEntry: JournalEntry{
			EntryID: uuid.New(),
			Text:    "a short entry",
		},
		Belief: BeliefState{
			Nodes:      []CruxNode{node},
			Probs:      map[uuid.UUID]float64{node.NodeID: 1.0},
			TopIDs:     []uuid.UUID{node.NodeID},
			LowStreaks: map[uuid.UUID]int{node.NodeID: 1},
		},
		EvidenceLog: []Evidence{{
			Kind:       EvidenceUserAnswer,
			Payload:    map[string]any{"answer": "First option"},
			AtRevision: 1,
		}},
		LastAction: WrapAction(ConfidenceUpdateAction{ActionID: uuid.New()}),
		BudgetUsed: 1,
		ExitFlags:  map[string]bool{},
	}

	clone := state.Clone()
	require.NotSame(t, state, clone)

	// Mutating the clone must not reach back into the original.
	clone.Belief.Nodes[0].Text = "rewritten"
	clone.Belief.Nodes[0].Supports[0] = "tampered"
	*clone.Belief.Nodes[0].DiagnosticPrior = 0.9
	clone.Belief.Probs[node.NodeID] = 0.1
	clone.Belief.TopIDs[0] = uuid.New()
	clone.Belief.LowStreaks[node.NodeID] = 5
	clone.EvidenceLog[0].Payload["answer"] = "Second option"
	clone.ExitFlags["budget"] = true
	clone.Revision = 99

	assert.Equal(t, "original hypothesis", state.Belief.Nodes[0].Text)
	assert.Equal(t, "evidence a", state.Belief.Nodes[0].Supports[0])
	assert.Equal(t, 0.4, *state.Belief.Nodes[0].DiagnosticPrior)
	assert.Equal(t, 1.0, state.Belief.Probs[node.NodeID])
	assert.Equal(t, node.NodeID, state.Belief.TopIDs[0])
	assert.Equal(t, 1, state.Belief.LowStreaks[node.NodeID])
	assert.Equal(t, "First option", state.EvidenceLog[0].Payload["answer"])
	assert.Empty(t, state.ExitFlags)
	assert.Equal(t, 2, state.Revision)
}

func TestAgentStateCloneHandlesSparseState(t *testing.T) {
	state := &AgentState{
		StateID: uuid.New(),
		Belief: BeliefState{
			Probs: map[uuid.UUID]float64{},
		},
		EvidenceLog: []Evidence{},
	}

	clone := state.Clone()
	require.NotNil(t, clone)
	assert.Nil(t, clone.LastAction)
	assert.NotNil(t, clone.EvidenceLog)
	assert.Empty(t, clone.EvidenceLog)
}

// The empty evidence log must serialize as [] rather than null so the
// signed canonical form is stable across a wire round trip.
func TestAgentStateJSONShape(t *testing.T) {
	state := &AgentState{
		StateID: uuid.New(),
		JournalEntry: JournalEntry{
			EntryID: uuid.New(),
			Text:    "entry",
		},
		Belief: BeliefState{
			Probs:      map[uuid.UUID]float64{},
			LowStreaks: map[uuid.UUID]int{},
		},
		EvidenceLog: []Evidence{},
		ExitFlags:   map[string]bool{},
	}

	raw, err := json.Marshal(state)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `"evidence_log":[]`)
	assert.NotContains(t, string(raw), `"integrity"`,
		"an empty signature is omitted, not serialized as an empty string")
	assert.NotContains(t, string(raw), `"last_action"`)

	var decoded AgentState
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, state.StateID, decoded.StateID)
	assert.NotNil(t, decoded.EvidenceLog)
}

func TestStopReasonValues(t *testing.T) {
	// Exit reasons double as wire strings and exit-flag keys.
	assert.Equal(t, ExitReason("threshold"), ExitThreshold)
	assert.Equal(t, ExitReason("epsilon"), ExitEpsilon)
	assert.Equal(t, ExitReason("budget"), ExitBudget)
	assert.Equal(t, ExitReason("guardrail"), ExitGuardrail)
}
