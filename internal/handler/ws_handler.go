package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/session"
	ws "github.com/invigilo/invigilo-backend/internal/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt over a WebSocket: autosave, violations,
// heartbeats and submit without per-request HTTP overhead. Every action lands
// on the same session machine the REST endpoints use.
type WSHandler struct {
	gateway  *service.GatewayService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(gateway *service.GatewayService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		gateway:  gateway,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:session_id/stream
// Upgrades to WebSocket for real-time attempt interaction.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	// Reject before upgrading; a dead session gets no socket.
	sess, err := h.gateway.GetSession(c.Request.Context(), sessionID, claims.UserID)
	if err != nil || sess.State.Terminal() {
		c.JSON(http.StatusForbidden, gin.H{"error": "no such attempt"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	userID := claims.UserID
	wsLog := h.log.With().
		Int("user_id", userID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, sessionID, userID, &msg)
		case ws.ActionViolation:
			h.handleViolation(conn, sessionID, userID, &msg)
		case ws.ActionHeartbeat:
			h.handleHeartbeat(conn, sessionID, userID)
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, sessionID, userID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAutosave(conn *websocket.Conn, sessionID uuid.UUID, userID int, msg *ws.RequestPayload) {
	qid, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, "invalid question_id format")
		return
	}

	err = h.gateway.RecordAnswer(context.Background(), sessionID, userID, model.RecordAnswerRequest{
		QuestionID:        qid,
		Code:              msg.Code,
		Language:          msg.Language,
		SelectedOptionIDs: msg.SelectedOptionIDs,
		Text:              msg.Text,
	})
	if err != nil {
		ws.WriteError(conn, wsErrorMessage(err))
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QuestionID: msg.QuestionID})
}

func (h *WSHandler) handleViolation(conn *websocket.Conn, sessionID uuid.UUID, userID int, msg *ws.RequestPayload) {
	count, err := h.gateway.ReportViolation(context.Background(), sessionID, userID, model.ReportViolationRequest{
		Type:    model.ViolationType(msg.Type),
		Details: msg.Details,
	})
	if err != nil && !errors.Is(err, session.ErrSessionClosed) {
		ws.WriteError(conn, wsErrorMessage(err))
		return
	}

	ws.WriteTyped(conn, ws.ViolationResponse{Event: ws.EventViolation, ViolationCount: count})
}

func (h *WSHandler) handleHeartbeat(conn *websocket.Conn, sessionID uuid.UUID, userID int) {
	hb, err := h.gateway.Heartbeat(context.Background(), sessionID, userID)
	if err != nil {
		ws.WriteError(conn, wsErrorMessage(err))
		return
	}

	ws.WriteTyped(conn, ws.HeartbeatResponse{
		Event:            ws.EventHeartbeat,
		State:            string(hb.State),
		RemainingSeconds: hb.RemainingSeconds,
		ViolationCount:   hb.ViolationCount,
	})
}

func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, sessionID uuid.UUID, userID int) {
	// Submit blocks on grading; give it room beyond the read deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := h.gateway.Submit(ctx, sessionID, userID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Submit over WebSocket failed")
		ws.WriteError(conn, wsErrorMessage(err))
		return
	}

	wsLog.Info().
		Float64("score", result.Score).
		Float64("max_score", result.MaxScore).
		Msg("Attempt submitted and graded")

	ws.WriteTyped(conn, ws.GradedResponse{
		Event:    ws.EventGraded,
		Score:    result.Score,
		MaxScore: result.MaxScore,
	})
}

// wsErrorMessage keeps socket errors terse and free of internals.
func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		return "attempt has ended"
	case errors.Is(err, session.ErrSessionNotFound):
		return "attempt not found"
	case errors.Is(err, session.ErrUnknownQuestion):
		return "unknown question"
	case errors.Is(err, session.ErrLanguageNotAllowed):
		return "language not allowed"
	case errors.Is(err, session.ErrStoreUnavailable):
		return "submission could not be stored"
	case errors.Is(err, service.ErrNotSessionOwner):
		return "forbidden"
	case errors.Is(err, service.ErrUnknownViolationType):
		return "unknown violation type"
	default:
		return "internal error"
	}
}
