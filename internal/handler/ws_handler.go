package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/attempt"
	"github.com/stemsi/examhub/internal/model"
	"github.com/stemsi/examhub/internal/response"
	"github.com/stemsi/examhub/internal/service"
	ws "github.com/stemsi/examhub/internal/websocket"
)

const wsActionTimeout = 5 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
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

// WSHandler streams a live attempt over a WebSocket: the countdown, state
// changes and the result, plus the same actions as the HTTP API.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/student/exams/:exam_id/stream?token=...
// Closing the socket tears the exam view down.
func (h *WSHandler) ExamStream(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}

	// Open before upgrading so unknown exams and stale sessions get a plain HTTP error.
	state, events, unsubscribe, err := h.sessionService.Subscribe(c.Request.Context(), key)
	if err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("attempt", key.String()).Msg("Stream open failed")
		}
		response.Fail(c, status, code)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		h.sessionService.Release(key)
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)

	wsLog := h.log.With().
		Int("user_id", key.UserID).
		Str("exam_id", key.ExamID).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	pumpDone := make(chan struct{})
	go h.pump(conn, events, pumpDone, wsLog)

	if err := conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: state}); err == nil {
		h.readLoop(conn, key, wsLog)
	}

	unsubscribe()
	<-pumpDone
	_ = conn.Close()

	if h.sessionService.Release(key) {
		wsLog.Info().Msg("Candidate disconnected, attempt released")
	} else {
		wsLog.Debug().Msg("Candidate disconnected")
	}
}

// pump forwards attempt events until the subscription ends. An attempt closed
// from elsewhere (reaper, shutdown, takeover) closes the socket too.
func (h *WSHandler) pump(conn *ws.Conn, events <-chan attempt.Event, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)

	for ev := range events {
		var err error
		switch ev.Type {
		case attempt.EventState:
			err = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: *ev.State})
		case attempt.EventTick:
			err = conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, TimeRemaining: ev.Remaining})
		case attempt.EventExpired:
			err = conn.WriteSignal(ws.EventExpired)
		case attempt.EventResult:
			err = conn.WriteTyped(ws.GradedResponse{
				Event:      ws.EventGraded,
				Result:     ev.Result,
				NavigateTo: model.DestinationFeedback,
			})
		case attempt.EventStale:
			_ = conn.WriteSignal(ws.EventStale)
			_ = conn.CloseWith(websocket.ClosePolicyViolation, "session continued elsewhere")
			return
		}
		if err != nil {
			log.Debug().Err(err).Str("event", string(ev.Type)).Msg("Event write failed")
		}
	}

	// Unblocks readLoop when the attempt went away underneath us.
	_ = conn.CloseWith(websocket.CloseGoingAway, "session closed")
}

func (h *WSHandler) readLoop(conn *ws.Conn, key model.AttemptKey, log zerolog.Logger) {
	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}

		if err := h.handleAction(conn, key, msg); err != nil {
			log.Debug().Err(err).Str("action", string(msg.Action)).Msg("Reply write failed")
			return
		}
	}
}

// handleAction runs one client action. Only a failed write is returned; action
// errors are reported to the client as error events.
func (h *WSHandler) handleAction(conn *ws.Conn, key model.AttemptKey, msg ws.RequestPayload) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()

	var (
		state model.DisplayState
		moved bool
		err   error
	)
	switch msg.Action {
	case ws.ActionPing:
		return conn.WriteSignal(ws.EventPong)

	case ws.ActionAnswer:
		if msg.Value == nil {
			return conn.WriteError(string(response.ErrValidation), "value is required")
		}
		if state, err = h.sessionService.Answer(ctx, key, *msg.Value); err != nil {
			return h.writeActionError(conn, key, err)
		}
		return conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: state})

	case ws.ActionNext:
		state, moved, err = h.sessionService.Next(ctx, key)
	case ws.ActionPrevious:
		state, moved, err = h.sessionService.Previous(ctx, key)
	case ws.ActionGoTo:
		if msg.Index == nil {
			return conn.WriteError(string(response.ErrValidation), "index is required")
		}
		state, moved, err = h.sessionService.GoTo(ctx, key, *msg.Index)

	case ws.ActionSubmit:
		res, dest, err := h.sessionService.Submit(ctx, key)
		if err != nil {
			return h.writeActionError(conn, key, err)
		}
		return conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: res, NavigateTo: dest})

	default:
		return conn.WriteError(string(response.ErrValidation), "unknown action: "+string(msg.Action))
	}

	if err != nil {
		return h.writeActionError(conn, key, err)
	}
	return conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: state, Moved: &moved})
}

func (h *WSHandler) writeActionError(conn *ws.Conn, key model.AttemptKey, err error) error {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("attempt", key.String()).Msg("WebSocket action failed")
	}
	return conn.WriteError(string(code), response.GetMessage(code))
}
