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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/CruxDiscovery/pkg/validation"
	"github.com/AleutianAI/CruxDiscovery/services/crux"
	"github.com/AleutianAI/CruxDiscovery/services/crux/observability"
	"github.com/AleutianAI/CruxDiscovery/services/crux/telemetry"
)

var serverTracer = otel.Tracer("crux.server")

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleAgentInit handles POST /v1/agent/init.
//
// Description:
//
//	Creates a new discovery session from a journal narrative. Seeds the
//	hypothesis frontier, signs the state, and returns it. The server keeps
//	nothing; the caller round-trips the state through /v1/agent/step.
//
// Response:
//
//	200 OK: the signed AgentState
//	400 Bad Request: missing, empty, or malformed narrative
//	500 Internal Server Error: session creation failed
func HandleAgentInit(eng *crux.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := serverTracer.Start(c.Request.Context(), "HandleAgentInit")
		defer span.End()
		logger := telemetry.LoggerWithTrace(ctx, slog.Default())

		var req InitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Invalid init request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}

		// Normalization never rejects blank input; the engine owns the
		// emptiness rule and reports it as EMPTY_NARRATIVE below.
		text, err := validation.SanitizeNarrative(req.Text)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Narrative failed validation", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_NARRATIVE",
			})
			return
		}

		state, err := eng.InitSession(ctx, text)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, crux.ErrEmptyNarrative) {
				c.JSON(http.StatusBadRequest, ErrorResponse{
					Error: err.Error(),
					Code:  "EMPTY_NARRATIVE",
				})
				return
			}
			logger.Error("InitSession failed", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "internal error",
				Code:  "INIT_FAILED",
			})
			return
		}

		logger.Info("Session initialized",
			"state_id", state.StateID,
			"hypotheses", len(state.Belief.Nodes))
		c.JSON(http.StatusOK, state)
	}
}

// HandleAgentStep handles POST /v1/agent/step.
//
// Description:
//
//	Advances a session by one turn. The caller submits the state from the
//	previous call, plus a user event when answering a question. The reply
//	either suspends on a new question or completes with the final result.
//
// Response:
//
//	200 OK: StepResponse
//	400 Bad Request: malformed body or missing state
//	409 Conflict: integrity check failed, or the event answers the wrong
//	    action; the submitted state was not processed
//	500 Internal Server Error: step execution failed
func HandleAgentStep(eng *crux.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := serverTracer.Start(c.Request.Context(), "HandleAgentStep")
		defer span.End()
		logger := telemetry.LoggerWithTrace(ctx, slog.Default())

		var req StepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Invalid step request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}

		out, err := eng.Step(ctx, req.State, req.UserEvent)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			statusCode := http.StatusInternalServerError
			errCode := "STEP_FAILED"
			msg := "internal error"

			switch {
			case errors.Is(err, crux.ErrNilState):
				statusCode = http.StatusBadRequest
				errCode = "MISSING_STATE"
				msg = err.Error()
			case errors.Is(err, crux.ErrIntegrityMismatch):
				statusCode = http.StatusConflict
				errCode = "INTEGRITY_REJECTED"
				msg = err.Error()
			case errors.Is(err, crux.ErrUserEventMismatch):
				statusCode = http.StatusConflict
				errCode = "EVENT_MISMATCH"
				msg = err.Error()
			case errors.Is(err, crux.ErrUnknownActionType):
				statusCode = http.StatusBadRequest
				errCode = "UNKNOWN_ACTION"
				msg = err.Error()
			}

			logger.Warn("Step rejected", "error", err, "code", errCode)
			c.JSON(statusCode, ErrorResponse{Error: msg, Code: errCode})
			return
		}

		logger.Info("Step executed",
			"state_id", out.State.StateID,
			"revision", out.State.Revision,
			"complete", out.Complete)
		c.JSON(http.StatusOK, StepResponse{
			Complete: out.Complete,
			State:    out.State,
			Action:   crux.WrapAction(out.Action),
			Result:   out.Result,
		})
	}
}

// HandleAgentStats handles GET /v1/agent/stats.
//
// Returns the tracker's summary counters. Prometheus scraping goes through
// /metrics; this endpoint is the quick human-readable view.
func HandleAgentStats(tracker *observability.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, tracker.Snapshot())
	}
}
