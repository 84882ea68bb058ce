package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/CruxDiscovery/pkg/validation"
	"github.com/AleutianAI/CruxDiscovery/services/crux"
	"github.com/AleutianAI/CruxDiscovery/services/crux/observability"
	"github.com/AleutianAI/CruxDiscovery/services/crux/telemetry"
)

// WSRequest is a client frame. A frame either starts a session (Text set)
// or answers the pending question (AnswerTo + Value set).
type WSRequest struct {
	Text     string `json:"text,omitempty"`
	AnswerTo string `json:"answer_to,omitempty"`
	Value    string `json:"value,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

var errInvalidFrame = errors.New("frame must carry text or answer_to")

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

func sendWSError(ws *websocket.Conn, code string, err error) error {
	return sendJSON(ws, map[string]interface{}{
		"event": "error",
		"code":  code,
		"error": err.Error(),
	})
}

// HandleSessionWebSocket handles GET /v1/agent/session/ws.
//
// The server owns the loop for interactive sessions: the client sends a
// narrative, the server drives internal steps and streams each question as
// it suspends, the client answers, and the final result arrives as a
// "complete" frame. The signed state lives in this handler for the lifetime
// of the connection; nothing survives a disconnect.
//
// Client frames:
//
//	{"text": "..."}                         start a session
//	{"answer_to": "<uuid>", "value": "..."} answer the pending question
//
// Server frames carry an "event" discriminator: session_created, question,
// complete, error.
func HandleSessionWebSocket(eng *crux.Engine, sink *observability.SessionSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sessionID := uuid.New().String()
		logger := telemetry.LoggerWithSession(c.Request.Context(), slog.Default(), sessionID)
		logger.Info("Websocket client connected")

		if err := sendJSON(ws, map[string]interface{}{
			"event":      "session_created",
			"session_id": sessionID,
		}); err != nil {
			return // Close if we can't even send the first message
		}

		// --- Connection State ---
		// The signed state round-trips through these locals; the engine
		// keeps nothing between calls.
		var state *crux.AgentState
		var pending crux.Action
		var startedAt time.Time

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				logger.Info("Websocket client disconnected", "error", err.Error())
				break
			}

			ctx := c.Request.Context()
			var out crux.StepOutcome
			var stepErr error

			switch {
			case req.Text != "":
				text, sanErr := validation.SanitizeNarrative(req.Text)
				if sanErr != nil {
					if sendWSError(ws, "INVALID_NARRATIVE", sanErr) != nil {
						return
					}
					continue
				}
				startedAt = time.Now()
				state, err = eng.InitSession(ctx, text)
				if err != nil {
					if sendWSError(ws, "INIT_REJECTED", err) != nil {
						return
					}
					continue
				}
				logger.Info("Websocket session initialized", "state_id", state.StateID)

				// Drive the first step immediately. Crisis narratives
				// complete here without a single question.
				out, stepErr = eng.Step(ctx, state, nil)

			case req.AnswerTo != "":
				if state == nil || pending == nil {
					if sendWSError(ws, "NO_PENDING_QUESTION", crux.ErrUserEventMismatch) != nil {
						return
					}
					continue
				}
				answerTo, parseErr := uuid.Parse(req.AnswerTo)
				if parseErr != nil {
					if sendWSError(ws, "INVALID_ANSWER_ID", parseErr) != nil {
						return
					}
					continue
				}
				event := &crux.UserEvent{AnswerTo: answerTo, Value: req.Value}
				out, stepErr = eng.Step(ctx, state, event)

			default:
				if sendWSError(ws, "INVALID_FRAME", errInvalidFrame) != nil {
					return
				}
				continue
			}

			if stepErr != nil {
				// Mismatch and integrity failures leave the held state
				// untouched, so the client may correct and retry.
				if sendWSError(ws, "STEP_REJECTED", stepErr) != nil {
					return
				}
				continue
			}

			state = out.State
			if out.Complete {
				pending = nil
				logger.Info("Websocket session complete",
					"exit_reason", out.Result.ExitReason,
					"confidence", out.Result.ConfirmedCrux.Confidence)
				sink.RecordSession(context.Background(), observability.SessionRecord{
					SessionID:     sessionID,
					ExitReason:    string(out.Result.ExitReason),
					Steps:         out.State.Revision,
					Questions:     out.State.BudgetUsed,
					Hypotheses:    len(out.State.Belief.Nodes),
					TopConfidence: out.Result.ConfirmedCrux.Confidence,
					Crisis:        out.Result.ExitReason == crux.ExitGuardrail,
					Duration:      time.Since(startedAt),
				})
				if sendJSON(ws, map[string]interface{}{
					"event":  "complete",
					"result": out.Result,
				}) != nil {
					return
				}
				continue
			}

			pending = out.Action
			if sendJSON(ws, map[string]interface{}{
				"event":  "question",
				"action": crux.WrapAction(out.Action),
			}) != nil {
				return
			}
		}
	}
}
