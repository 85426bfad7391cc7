package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const (
	sendBuffer    = 64
	actionTimeout = 10 * time.Second
)

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

// WSHandler streams a live exam session to the student's browser.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/tests/:test_id/stream?token=...
// Opens (or rejoins) the session, then relays browser signals and actions to the
// controller and pushes ticks, warnings and notices back. A newer connection for
// the same session replaces this one.
func (h *WSHandler) SessionStream(c *gin.Context) {
	who, ok := principal(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Load before upgrading so a fetch failure is a plain HTTP error.
	ls, err := h.sessions.Open(c.Request.Context(), who)
	if err != nil {
		status, code := sessionError(err)
		response.Fail(c, status, code)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(ws.MaxMessageSize)

	wsLog := h.log.With().
		Int("student_id", who.StudentID).
		Str("test_id", who.TestID).
		Str("request_id", response.RequestID(c)).
		Logger()

	client := newWSClient(conn, wsLog)
	go client.writePump()
	defer client.stop()

	detach := ls.Attach(client)
	defer detach()

	wsLog.Info().Msg("Student connected")
	h.handleState(ls, client, ws.RequestEnvelope{Action: ws.ActionState})

	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			client.fail(env, response.ErrInvalidPayload)
			continue
		}
		h.dispatch(ls, client, env, data, wsLog)
	}
}

func (h *WSHandler) dispatch(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope, data []byte, log zerolog.Logger) {
	switch env.Action {
	case ws.ActionPing:
		client.send(ws.PongResponse{Event: ws.EventPong, Seq: env.Seq})
	case ws.ActionState:
		h.handleState(ls, client, env)
	case ws.ActionStart:
		h.handleStart(ls, client, env)
	case ws.ActionSignal:
		h.handleSignal(ls, client, env, data)
	case ws.ActionSave:
		h.handleSave(ls, client, env, data)
	case ws.ActionClear, ws.ActionReview, ws.ActionGoTo:
		h.handleIndex(ls, client, env, data)
	case ws.ActionSummary:
		h.handleSummary(ls, client, env)
	case ws.ActionSubmit:
		h.mutate(ls, client, env, (*proctor.Controller).ConfirmSubmit)
	default:
		log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		client.fail(env, response.ErrUnknownAction)
	}
}

func (h *WSHandler) do(ls *service.LiveSession, fn func(c *proctor.Controller) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	return ls.Do(ctx, fn)
}

func (h *WSHandler) handleState(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope) {
	var snap model.SessionSnapshot
	if err := h.do(ls, func(c *proctor.Controller) error {
		snap = c.Snapshot()
		return nil
	}); err != nil {
		client.failErr(env, err)
		return
	}
	client.send(ws.StateResponse{Event: ws.EventState, Snapshot: &snap})
}

func (h *WSHandler) handleStart(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope) {
	ack := ws.AckResponse{Event: ws.EventAck, Action: env.Action, Seq: env.Seq}
	if err := h.do(ls, func(c *proctor.Controller) error {
		if err := c.Start(); err != nil {
			return err
		}
		snap := c.Snapshot()
		ack.Snapshot = &snap
		ack.Questions = c.Questions()
		return nil
	}); err != nil {
		client.failErr(env, err)
		return
	}
	client.send(ack)
}

func (h *WSHandler) handleSignal(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope, data []byte) {
	var req ws.SignalRequest
	if !client.decode(env, data, &req) {
		return
	}
	if !req.Signal.Kind.Valid() {
		client.fail(env, response.ErrInvalidPayload)
		return
	}

	var prevented bool
	if err := h.do(ls, func(c *proctor.Controller) error {
		prevented = c.Dispatch(req.Signal.ToSignal(time.Now()))
		return nil
	}); err != nil {
		client.failErr(env, err)
		return
	}
	client.send(ws.AckResponse{Event: ws.EventAck, Action: env.Action, Seq: env.Seq, Prevented: prevented})
}

func (h *WSHandler) handleSave(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope, data []byte) {
	var req ws.SaveRequest
	if !client.decode(env, data, &req) {
		return
	}
	h.mutate(ls, client, env, func(c *proctor.Controller) error {
		return c.Save(*req.Index, *req.Answer)
	})
}

func (h *WSHandler) handleIndex(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope, data []byte) {
	var req ws.IndexRequest
	if !client.decode(env, data, &req) {
		return
	}
	i := *req.Index
	h.mutate(ls, client, env, func(c *proctor.Controller) error {
		switch env.Action {
		case ws.ActionClear:
			return c.Clear(i)
		case ws.ActionReview:
			return c.MarkReview(i)
		default:
			return c.GoTo(i)
		}
	})
}

func (h *WSHandler) handleSummary(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope) {
	var summary model.SubmitSummary
	if err := h.do(ls, func(c *proctor.Controller) (err error) {
		summary, err = c.Summary()
		return err
	}); err != nil {
		client.failErr(env, err)
		return
	}
	client.send(ws.SummaryResponse{Event: ws.EventSummary, Seq: env.Seq, Summary: summary})
}

// mutate runs fn and acknowledges with the resulting snapshot.
func (h *WSHandler) mutate(ls *service.LiveSession, client *wsClient, env ws.RequestEnvelope, fn func(c *proctor.Controller) error) {
	ack := ws.AckResponse{Event: ws.EventAck, Action: env.Action, Seq: env.Seq}
	if err := h.do(ls, func(c *proctor.Controller) error {
		if err := fn(c); err != nil {
			return err
		}
		snap := c.Snapshot()
		ack.Snapshot = &snap
		return nil
	}); err != nil {
		client.failErr(env, err)
		return
	}
	client.send(ack)
}

// ─── Client ─────────────────────────────────────────────────────────

// wsClient implements service.Client over one connection. Every write goes
// through writePump so the session loop never blocks on the network.
type wsClient struct {
	conn *websocket.Conn
	log  zerolog.Logger

	out      chan any
	done     chan struct{}
	stopOnce sync.Once
}

// evicted is queued when a newer connection replaces this one.
type evicted struct{}

// restarting is queued when the server shuts the session down.
type restarting struct{}

func newWSClient(conn *websocket.Conn, log zerolog.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		log:  log,
		out:  make(chan any, sendBuffer),
		done: make(chan struct{}),
	}
}

// Deliver implements service.Client.
func (c *wsClient) Deliver(e proctor.Event) {
	if msg, ok := ws.FromEvent(e); ok {
		c.send(msg)
	}
}

// RequestFullscreen implements service.Client. The browser answers with a
// fullscreenchange or fullscreenerror signal.
func (c *wsClient) RequestFullscreen() error {
	if !c.send(ws.FullscreenResponse{Event: ws.EventFullscreen}) {
		return proctor.ErrNoClient
	}
	return nil
}

// Evict implements service.Client.
func (c *wsClient) Evict() {
	if !c.send(evicted{}) {
		c.stop()
	}
}

// Restart implements service.Client.
func (c *wsClient) Restart() {
	if !c.send(restarting{}) {
		c.stop()
	}
}

// send queues msg without blocking. A full buffer drops the message; the
// browser resynchronizes with a state request.
func (c *wsClient) send(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("Send buffer full, dropping message")
		return false
	}
}

func (c *wsClient) fail(env ws.RequestEnvelope, code response.ErrCode) {
	c.send(ws.ErrorResponse{
		Event:  ws.EventError,
		Action: env.Action,
		Seq:    env.Seq,
		Code:   string(code),
		Error:  response.GetMessage(code),
	})
}

func (c *wsClient) failErr(env ws.RequestEnvelope, err error) {
	status, code := sessionError(err)
	if status >= http.StatusInternalServerError {
		c.log.Error().Err(err).Str("action", string(env.Action)).Msg("Action failed")
	}
	c.fail(env, code)
}

func (c *wsClient) decode(env ws.RequestEnvelope, data []byte, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		c.fail(env, response.ErrInvalidPayload)
		return false
	}
	if err := validator.Struct(dst); err != nil {
		c.fail(env, response.ErrValidation)
		return false
	}
	return true
}

func (c *wsClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// closeWith sends a final error event and a close frame, then stops the client.
func (c *wsClient) closeWith(closeCode int, code response.ErrCode) {
	_ = ws.WriteError(c.conn, string(code), response.GetMessage(code))
	_ = ws.WriteClose(c.conn, closeCode, string(code))
	c.stop()
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			_ = ws.WriteClose(c.conn, websocket.CloseNormalClosure, "")
			return
		case msg := <-c.out:
			switch msg.(type) {
			case evicted:
				c.log.Info().Msg("Connection replaced by a newer one")
				c.closeWith(websocket.ClosePolicyViolation, response.ErrSessionReplaced)
				return
			case restarting:
				c.log.Info().Msg("Closing connection for server restart")
				c.closeWith(websocket.CloseServiceRestart, response.ErrServiceRestarting)
				return
			}
			if err := ws.WriteTyped(c.conn, msg); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				c.stop()
				return
			}
		}
	}
}
