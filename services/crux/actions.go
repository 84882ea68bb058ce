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
	"fmt"

	"github.com/google/uuid"
)

// ActionType discriminates the closed set of action kinds.
//
// The set is closed on purpose: every kind must be handled in
// enumerateActions, actionEVI, and executeAction together. Adding a kind
// to one without the others silently skews scoring or execution, so treat
// the three switches as a single unit when extending this list.
type ActionType string

const (
	// ActionAskUser poses a question to the user and suspends the session.
	ActionAskUser ActionType = "AskUser"

	// ActionHypothesize spawns additional hypothesis nodes.
	ActionHypothesize ActionType = "Hypothesize"

	// ActionClusterThemes consolidates lexically overlapping nodes.
	ActionClusterThemes ActionType = "ClusterThemes"

	// ActionCounterfactualTest probes whether resolving one hypothesis
	// would dissolve the distress attributed to another.
	ActionCounterfactualTest ActionType = "CounterfactualTest"

	// ActionEvidenceRequest extracts a specific kind of evidence from the
	// narrative (timeline, constraints, goals, norms).
	ActionEvidenceRequest ActionType = "EvidenceRequest"

	// ActionSilenceCheck looks for what the narrative conspicuously omits.
	ActionSilenceCheck ActionType = "SilenceCheck"

	// ActionConfidenceUpdate renormalizes and re-ranks the belief state.
	ActionConfidenceUpdate ActionType = "ConfidenceUpdate"

	// ActionStop terminates the session with an explicit reason.
	ActionStop ActionType = "Stop"
)

// EvidenceRequestKind is the rotating focus of an EvidenceRequest action.
type EvidenceRequestKind string

const (
	RequestTimeline    EvidenceRequestKind = "timeline"
	RequestConstraints EvidenceRequestKind = "constraints"
	RequestGoals       EvidenceRequestKind = "goals"
	RequestNorms       EvidenceRequestKind = "norms"
)

// evidenceRequestCycle is the deterministic rotation order, indexed by
// revision modulo its length.
var evidenceRequestCycle = []EvidenceRequestKind{
	RequestTimeline,
	RequestConstraints,
	RequestGoals,
	RequestNorms,
}

// Action is the closed sum type of everything the engine can do next.
//
// Implementations are plain value structs; the unexported marker method
// keeps the set closed to this package.
type Action interface {
	// Kind returns the discriminator for exhaustive dispatch.
	Kind() ActionType

	// ID returns the action's unique identity. AskUser ids are referenced
	// by the caller's next UserEvent.
	ID() uuid.UUID

	isAction()
}

// AskUserAction poses a contrastive or exploratory question to the user.
type AskUserAction struct {
	ActionID     uuid.UUID   `json:"action_id"`
	Question     string      `json:"question"`
	Targets      []uuid.UUID `json:"targets,omitempty"`
	QuickOptions []string    `json:"quick_options,omitempty"`
	Rationale    string      `json:"rationale,omitempty"`
}

func (a AskUserAction) Kind() ActionType { return ActionAskUser }
func (a AskUserAction) ID() uuid.UUID    { return a.ActionID }
func (AskUserAction) isAction()          {}

// HypothesizeAction spawns SpawnK new hypothesis nodes.
type HypothesizeAction struct {
	ActionID uuid.UUID `json:"action_id"`
	SpawnK   int       `json:"spawn_k"`
}

func (a HypothesizeAction) Kind() ActionType { return ActionHypothesize }
func (a HypothesizeAction) ID() uuid.UUID    { return a.ActionID }
func (HypothesizeAction) isAction()          {}

// ClusterThemesAction consolidates overlapping hypothesis nodes.
type ClusterThemesAction struct {
	ActionID uuid.UUID `json:"action_id"`
}

func (a ClusterThemesAction) Kind() ActionType { return ActionClusterThemes }
func (a ClusterThemesAction) ID() uuid.UUID    { return a.ActionID }
func (ClusterThemesAction) isAction()          {}

// CounterfactualTestAction probes the dependency between the two leading
// hypotheses.
type CounterfactualTestAction struct {
	ActionID uuid.UUID `json:"action_id"`
	TargetA  uuid.UUID `json:"target_a"`
	TargetB  uuid.UUID `json:"target_b"`
}

func (a CounterfactualTestAction) Kind() ActionType { return ActionCounterfactualTest }
func (a CounterfactualTestAction) ID() uuid.UUID    { return a.ActionID }
func (CounterfactualTestAction) isAction()          {}

// EvidenceRequestAction extracts one kind of evidence from the narrative.
type EvidenceRequestAction struct {
	ActionID    uuid.UUID           `json:"action_id"`
	RequestKind EvidenceRequestKind `json:"request_kind"`
}

func (a EvidenceRequestAction) Kind() ActionType { return ActionEvidenceRequest }
func (a EvidenceRequestAction) ID() uuid.UUID    { return a.ActionID }
func (EvidenceRequestAction) isAction()          {}

// SilenceCheckAction looks for significant omissions in the narrative.
type SilenceCheckAction struct {
	ActionID uuid.UUID `json:"action_id"`
}

func (a SilenceCheckAction) Kind() ActionType { return ActionSilenceCheck }
func (a SilenceCheckAction) ID() uuid.UUID    { return a.ActionID }
func (SilenceCheckAction) isAction()          {}

// ConfidenceUpdateAction renormalizes the belief distribution and refreshes
// the ranking cache.
type ConfidenceUpdateAction struct {
	ActionID uuid.UUID `json:"action_id"`
}

func (a ConfidenceUpdateAction) Kind() ActionType { return ActionConfidenceUpdate }
func (a ConfidenceUpdateAction) ID() uuid.UUID    { return a.ActionID }
func (ConfidenceUpdateAction) isAction()          {}

// StopAction terminates the session.
type StopAction struct {
	ActionID uuid.UUID  `json:"action_id"`
	Reason   ExitReason `json:"exit_reason"`
}

func (a StopAction) Kind() ActionType { return ActionStop }
func (a StopAction) ID() uuid.UUID    { return a.ActionID }
func (StopAction) isAction()          {}

// ActionEnvelope carries an Action across a JSON boundary.
//
// The wire form is {"type": <kind>, "action": {<kind fields>}} so the caller
// round-trips LastAction losslessly without knowing the concrete types.
type ActionEnvelope struct {
	Type   ActionType `json:"type"`
	Action Action     `json:"action"`
}

// WrapAction boxes an action for storage on AgentState.
func WrapAction(a Action) *ActionEnvelope {
	if a == nil {
		return nil
	}
	return &ActionEnvelope{Type: a.Kind(), Action: a}
}

// UnmarshalJSON decodes the envelope by discriminator. Unknown types are
// rejected rather than dropped so a tampered or newer-version state fails
// loudly instead of silently losing its last action.
func (e *ActionEnvelope) UnmarshalJSON(data []byte) error {
	var head struct {
		Type   ActionType      `json:"type"`
		Action json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode action envelope: %w", err)
	}

	e.Type = head.Type

	switch head.Type {
	case ActionAskUser:
		var a AskUserAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	case ActionHypothesize:
		var a HypothesizeAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	case ActionClusterThemes:
		var a ClusterThemesAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	case ActionCounterfactualTest:
		var a CounterfactualTestAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	case ActionEvidenceRequest:
		var a EvidenceRequestAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	case ActionSilenceCheck:
		var a SilenceCheckAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	case ActionConfidenceUpdate:
		var a ConfidenceUpdateAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	case ActionStop:
		var a StopAction
		if err := json.Unmarshal(head.Action, &a); err != nil {
			return err
		}
		e.Action = a
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, head.Type)
	}

	return nil
}
