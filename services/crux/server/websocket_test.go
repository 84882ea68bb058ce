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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CruxDiscovery/services/crux"
)

// wsFrame is the union of all server frame shapes for decoding in tests.
type wsFrame struct {
	Event     string               `json:"event"`
	SessionID string               `json:"session_id"`
	Code      string               `json:"code"`
	Error     string               `json:"error"`
	Action    *crux.ActionEnvelope `json:"action"`
	Result    *crux.AgentResult    `json:"result"`
}

// dialSession starts a test server around the websocket handler and completes
// the connect handshake, returning the open client connection.
func dialSession(t *testing.T, eng *crux.Engine) *websocket.Conn {
	t.Helper()

	router := gin.New()
	router.GET("/v1/agent/session/ws", HandleSessionWebSocket(eng, nil))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/agent/session/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	created := readFrame(t, ws)
	require.Equal(t, "session_created", created.Event)
	require.NotEmpty(t, created.SessionID)

	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame wsFrame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

// =============================================================================
// Interactive Session Tests
// =============================================================================

// The full interactive loop over one connection: narrative in, questions
// streamed out, answers in, final result out. The connection owns the state
// the whole way.
func TestSessionWebSocket_InteractiveFlow(t *testing.T) {
	eng := newTestEngine(t, crux.WithConfig(cheapAskConfig()))
	ws := dialSession(t, eng)

	require.NoError(t, ws.WriteJSON(WSRequest{Text: twoThemeNarrative}))

	var final wsFrame
	for turn := 0; turn < 8; turn++ {
		frame := readFrame(t, ws)
		if frame.Event == "complete" {
			final = frame
			break
		}

		require.Equal(t, "question", frame.Event)
		require.NotNil(t, frame.Action)
		ask, ok := frame.Action.Action.(crux.AskUserAction)
		require.True(t, ok)
		assert.NotEmpty(t, ask.Question)

		require.NoError(t, ws.WriteJSON(WSRequest{
			AnswerTo: ask.ActionID.String(),
			Value:    "First option",
		}))
	}

	require.Equal(t, "complete", final.Event, "session should finish within the step budget")
	require.NotNil(t, final.Result)
	assert.NotEmpty(t, final.Result.ConfirmedCrux.Text)
	assert.Greater(t, final.Result.ConfirmedCrux.Confidence, 0.5)
}

// A crisis narrative terminates before the first question, with the fixed
// resource payload.
func TestSessionWebSocket_CrisisCompletesImmediately(t *testing.T) {
	eng := newTestEngine(t)
	ws := dialSession(t, eng)

	require.NoError(t, ws.WriteJSON(WSRequest{Text: crisisNarrative}))

	frame := readFrame(t, ws)
	require.Equal(t, "complete", frame.Event)
	require.NotNil(t, frame.Result)
	assert.Equal(t, crux.ExitGuardrail, frame.Result.ExitReason)
	assert.NotNil(t, frame.Result.CrisisResources)
}

// Autonomous narratives need no answer frames at all: one text frame, one
// complete frame.
func TestSessionWebSocket_AutonomousRun(t *testing.T) {
	eng := newTestEngine(t)
	ws := dialSession(t, eng)

	require.NoError(t, ws.WriteJSON(WSRequest{Text: richNarrative}))

	frame := readFrame(t, ws)
	require.Equal(t, "complete", frame.Event)
	require.NotNil(t, frame.Result)
	assert.Equal(t, crux.ExitBudget, frame.Result.ExitReason)
}

// =============================================================================
// Protocol Error Tests
// =============================================================================

func TestSessionWebSocket_AnswerBeforeNarrative(t *testing.T) {
	eng := newTestEngine(t)
	ws := dialSession(t, eng)

	require.NoError(t, ws.WriteJSON(WSRequest{
		AnswerTo: "2b7cfc1e-f4ba-4a6a-9a3a-0d4f3f3a1c55",
		Value:    "First option",
	}))

	frame := readFrame(t, ws)
	assert.Equal(t, "error", frame.Event)
	assert.Equal(t, "NO_PENDING_QUESTION", frame.Code)
}

func TestSessionWebSocket_EmptyFrameRejected(t *testing.T) {
	eng := newTestEngine(t)
	ws := dialSession(t, eng)

	require.NoError(t, ws.WriteJSON(WSRequest{}))

	frame := readFrame(t, ws)
	assert.Equal(t, "error", frame.Event)
	assert.Equal(t, "INVALID_FRAME", frame.Code)
}

// The connection survives a rejected frame and still runs a session after.
func TestSessionWebSocket_RecoversAfterError(t *testing.T) {
	eng := newTestEngine(t)
	ws := dialSession(t, eng)

	require.NoError(t, ws.WriteJSON(WSRequest{}))
	errFrame := readFrame(t, ws)
	require.Equal(t, "error", errFrame.Event)

	require.NoError(t, ws.WriteJSON(WSRequest{Text: richNarrative}))
	frame := readFrame(t, ws)
	assert.Equal(t, "complete", frame.Event)
}
