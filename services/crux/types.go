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
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the lifecycle status of a CruxNode.
//
// Nodes are never physically deleted; they transition from active to merged
// or retired and stay in the node list so the evidence trail remains intact.
type NodeStatus string

const (
	// NodeActive marks a node that participates in the belief distribution.
	NodeActive NodeStatus = "active"

	// NodeMerged marks a node that was absorbed into a near-duplicate.
	NodeMerged NodeStatus = "merged"

	// NodeRetired marks a node dropped after a sustained low-probability streak.
	NodeRetired NodeStatus = "retired"
)

// EvidenceKind tags the origin of an Evidence record.
type EvidenceKind string

const (
	// EvidenceUserAnswer is a reply the user gave to an AskUser question.
	EvidenceUserAnswer EvidenceKind = "UserAnswer"

	// EvidenceEntryQuote is a verbatim quote extracted from the narrative.
	EvidenceEntryQuote EvidenceKind = "EntryQuote"

	// EvidencePatternSignal is a structural observation (merges, new nodes).
	EvidencePatternSignal EvidenceKind = "PatternSignal"

	// EvidenceContextDatum is contextual information gathered internally.
	EvidenceContextDatum EvidenceKind = "ContextDatum"

	// EvidenceExperimentResult is the outcome of a counterfactual test.
	EvidenceExperimentResult EvidenceKind = "ExperimentResult"
)

// ExitReason tags why a session terminated.
type ExitReason string

const (
	// ExitThreshold fires when the top probability clears the confidence
	// threshold with a sufficient gap to the runner-up.
	ExitThreshold ExitReason = "threshold"

	// ExitEpsilon fires when no candidate action is worth taking.
	ExitEpsilon ExitReason = "epsilon"

	// ExitBudget fires when the question or step budget is exhausted.
	ExitBudget ExitReason = "budget"

	// ExitGuardrail fires when crisis language forces early termination.
	ExitGuardrail ExitReason = "guardrail"
)

// JournalEntry is the free-text narrative under analysis.
type JournalEntry struct {
	EntryID   uuid.UUID `json:"entry_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// CruxNode is one hypothesis about the root issue underlying the narrative.
//
// Text is capped at 400 characters. Supports and Counters hold short snippets
// collected for and against the hypothesis. DiagnosticPrior, when present, is
// an externally supplied prior used only for reporting, never for scoring.
type CruxNode struct {
	NodeID          uuid.UUID  `json:"node_id"`
	Text            string     `json:"text"`
	DiagnosticPrior *float64   `json:"diagnostic_prior,omitempty"`
	Supports        []string   `json:"supports,omitempty"`
	Counters        []string   `json:"counters,omitempty"`
	Status          NodeStatus `json:"status"`
}

// NewCruxNode creates an active node with a fresh identity.
func NewCruxNode(text string) CruxNode {
	return CruxNode{
		NodeID: uuid.New(),
		Text:   truncateText(text, maxNodeTextLen),
		Status: NodeActive,
	}
}

// BeliefState is the probability distribution over competing crux hypotheses.
//
// Probs maps node ids to probabilities and contains exactly the active nodes;
// it sums to 1 within floating tolerance after every mutation. TopIDs is a
// ranking cache of active ids by descending probability, recomputed after
// every mutation. LowStreaks tracks, per node, how many consecutive update
// passes the node spent below the retirement probability; it is part of the
// state so a round-tripped session resumes the count losslessly.
type BeliefState struct {
	Nodes      []CruxNode            `json:"nodes"`
	Probs      map[uuid.UUID]float64 `json:"probs"`
	TopIDs     []uuid.UUID           `json:"top_ids"`
	LowStreaks map[uuid.UUID]int     `json:"low_streaks,omitempty"`
}

// Evidence is one observation captured during the session. The log is
// append-only; AtRevision records the state revision at capture time.
type Evidence struct {
	Kind       EvidenceKind   `json:"kind"`
	Payload    map[string]any `json:"payload"`
	AtRevision int            `json:"at_revision"`
}

// AgentState is the full session state, owned by the caller between turns.
//
// Every Step call produces a new, fully independent copy with Revision
// advanced and Integrity recomputed; the engine retains nothing. Revision
// increases by exactly one per internal sub-step, including chained internal
// actions. BudgetUsed increases iff the executed action was AskUser.
type AgentState struct {
	StateID      uuid.UUID       `json:"state_id"`
	Revision     int             `json:"revision"`
	Integrity    string          `json:"integrity,omitempty"`
	JournalEntry JournalEntry    `json:"journal_entry"`
	Belief       BeliefState     `json:"belief_state"`
	EvidenceLog  []Evidence      `json:"evidence_log"`
	LastAction   *ActionEnvelope `json:"last_action,omitempty"`
	BudgetUsed   int             `json:"budget_used"`
	ExitFlags    map[string]bool `json:"exit_flags,omitempty"`
}

// Clone returns a deep copy of the state. Step operates on a clone so a
// failed call leaves the caller's value untouched.
func (s *AgentState) Clone() *AgentState {
	out := *s

	out.Belief.Nodes = make([]CruxNode, len(s.Belief.Nodes))
	for i, n := range s.Belief.Nodes {
		cp := n
		if n.DiagnosticPrior != nil {
			v := *n.DiagnosticPrior
			cp.DiagnosticPrior = &v
		}
		cp.Supports = append([]string(nil), n.Supports...)
		cp.Counters = append([]string(nil), n.Counters...)
		out.Belief.Nodes[i] = cp
	}

	out.Belief.Probs = make(map[uuid.UUID]float64, len(s.Belief.Probs))
	for id, p := range s.Belief.Probs {
		out.Belief.Probs[id] = p
	}
	out.Belief.TopIDs = append([]uuid.UUID(nil), s.Belief.TopIDs...)
	if s.Belief.LowStreaks != nil {
		out.Belief.LowStreaks = make(map[uuid.UUID]int, len(s.Belief.LowStreaks))
		for id, c := range s.Belief.LowStreaks {
			out.Belief.LowStreaks[id] = c
		}
	}

	out.EvidenceLog = make([]Evidence, len(s.EvidenceLog))
	for i, ev := range s.EvidenceLog {
		cp := ev
		if ev.Payload != nil {
			cp.Payload = make(map[string]any, len(ev.Payload))
			for k, v := range ev.Payload {
				cp.Payload[k] = v
			}
		}
		out.EvidenceLog[i] = cp
	}

	if s.LastAction != nil {
		env := *s.LastAction
		out.LastAction = &env
	}
	if s.ExitFlags != nil {
		out.ExitFlags = make(map[string]bool, len(s.ExitFlags))
		for k, v := range s.ExitFlags {
			out.ExitFlags[k] = v
		}
	}

	return &out
}

// UserEvent is the caller's reply to the most recent AskUser action.
// AnswerTo must match the id of that action or the step is rejected.
type UserEvent struct {
	AnswerTo uuid.UUID `json:"answer_to"`
	Value    string    `json:"value"`
}

// ConfirmedCrux is the top hypothesis at termination.
type ConfirmedCrux struct {
	NodeID     uuid.UUID `json:"node_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

// SecondaryTheme is a non-top hypothesis that retained meaningful probability.
type SecondaryTheme struct {
	NodeID     uuid.UUID `json:"node_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

// AgentResult is the terminal output of a session, consumed by downstream
// perspective renderers.
type AgentResult struct {
	ConfirmedCrux   ConfirmedCrux    `json:"confirmed_crux"`
	SecondaryThemes []SecondaryTheme `json:"secondary_themes"`
	ReasoningTrail  string           `json:"reasoning_trail"`
	ExitReason      ExitReason       `json:"exit_reason"`

	// CrisisResources is set only on guardrail terminations. It is a fixed
	// payload, never generated text.
	CrisisResources map[string]any `json:"crisis_resources,omitempty"`
}

// StepOutcome is the result of one Step invocation.
//
// Exactly one of the two shapes is populated: a suspended turn carries the
// AskUser action awaiting a reply (Complete false, Action set), a terminated
// turn carries the final result (Complete true, Result set). State is always
// the fresh copy the caller must round-trip into the next call.
type StepOutcome struct {
	Complete bool         `json:"complete"`
	State    *AgentState  `json:"state"`
	Action   Action       `json:"action,omitempty"`
	Result   *AgentResult `json:"result,omitempty"`
}
