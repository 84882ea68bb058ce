// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/CruxDiscovery/services/crux"
)

// InitRequest is the request body for POST /v1/agent/init.
type InitRequest struct {
	// Text is the journal narrative to analyze. Required. The handler
	// normalizes it and enforces validation.MaxNarrativeChars.
	Text string `json:"text" binding:"required"`
}

// StepRequest is the request body for POST /v1/agent/step.
type StepRequest struct {
	// State is the signed agent state returned by the previous call.
	// Required.
	State *crux.AgentState `json:"state" binding:"required"`

	// UserEvent answers the pending AskUser action. Omit it on turns where
	// no question is outstanding.
	UserEvent *crux.UserEvent `json:"user_event,omitempty"`
}

// StepResponse is the response for POST /v1/agent/step.
//
// Exactly one of Action and Result is set: Action when the session suspended
// on a question, Result when it terminated. State is always the fresh signed
// copy to round-trip into the next call.
type StepResponse struct {
	Complete bool                 `json:"complete"`
	State    *crux.AgentState     `json:"state"`
	Action   *crux.ActionEnvelope `json:"action,omitempty"`
	Result   *crux.AgentResult    `json:"result,omitempty"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is a machine-readable error code.
	Code string `json:"code"`
}
