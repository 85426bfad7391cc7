package websocket

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart   Action = "start"
	ActionSignal  Action = "signal"
	ActionSave    Action = "save"
	ActionClear   Action = "clear"
	ActionReview  Action = "review"
	ActionGoTo    Action = "goto"
	ActionSummary Action = "summary"
	ActionSubmit  Action = "submit"
	ActionState   Action = "state"
	ActionPing    Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
// Seq is echoed back on the reply so the client can match it.
type RequestEnvelope struct {
	Action Action `json:"action"`
	Seq    int64  `json:"seq,omitempty"`
}

// SignalPayload is one document signal observed by the browser.
type SignalPayload struct {
	Kind   proctor.SignalKind `json:"kind" binding:"required"`
	Hidden bool               `json:"hidden,omitempty"`
	Active bool               `json:"active,omitempty"`
	Key    proctor.KeyCombo   `json:"key"`
}

// ToSignal converts the payload for the controller.
func (p SignalPayload) ToSignal(at time.Time) *proctor.Signal {
	return &proctor.Signal{Kind: p.Kind, Hidden: p.Hidden, Active: p.Active, Key: p.Key, At: at}
}

// SignalRequest forwards a document signal.
type SignalRequest struct {
	Action Action        `json:"action"`
	Signal SignalPayload `json:"signal"`
}

// SaveRequest stores an answer for a display index.
type SaveRequest struct {
	Action Action        `json:"action"`
	Index  *int          `json:"index" binding:"required,min=0"`
	Answer *model.Answer `json:"answer" binding:"required"`
}

// IndexRequest carries a display index for clear, review and goto.
type IndexRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState      Event = "state"
	EventTick       Event = "tick"
	EventWarning    Event = "warning"
	EventNotice     Event = "notice"
	EventFullscreen Event = "fullscreen"
	EventNavigate   Event = "navigate"
	EventAck        Event = "ack"
	EventSummary    Event = "summary"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

type StateResponse struct {
	Event    Event                  `json:"event"`
	Snapshot *model.SessionSnapshot `json:"snapshot"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining_seconds"`
}

// WarningResponse reports a recorded violation with the running count.
type WarningResponse struct {
	Event     Event            `json:"event"`
	Violation *model.Violation `json:"violation"`
	Threshold int              `json:"threshold"`
	Message   string           `json:"message"`
	Terminal  bool             `json:"terminal,omitempty"`
}

type NoticeResponse struct {
	Event    Event               `json:"event"`
	Level    proctor.NoticeLevel `json:"level"`
	Message  string              `json:"message"`
	Terminal bool                `json:"terminal,omitempty"`
}

// FullscreenResponse asks the browser to enter fullscreen. It reports a
// fullscreenchange or fullscreenerror signal in return.
type FullscreenResponse struct {
	Event Event `json:"event"`
}

type NavigateResponse struct {
	Event    Event  `json:"event"`
	Redirect string `json:"redirect"`
}

// AckResponse confirms an action. Prevented is set for signals whose default
// action the browser must suppress.
// Questions is only set on the start acknowledgement.
type AckResponse struct {
	Event     Event                      `json:"event"`
	Action    Action                     `json:"action"`
	Seq       int64                      `json:"seq,omitempty"`
	Prevented bool                       `json:"prevented,omitempty"`
	Snapshot  *model.SessionSnapshot     `json:"snapshot,omitempty"`
	Questions []model.QuestionForStudent `json:"questions,omitempty"`
}

type SummaryResponse struct {
	Event   Event               `json:"event"`
	Seq     int64               `json:"seq,omitempty"`
	Summary model.SubmitSummary `json:"summary"`
}

type ErrorResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Seq    int64  `json:"seq,omitempty"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
	Seq   int64 `json:"seq,omitempty"`
}

// FromEvent maps a session event to its wire message. Events the browser does
// not render (order, answer, review, submission bookkeeping) map to nothing.
func FromEvent(e proctor.Event) (any, bool) {
	switch e.Type {
	case proctor.EventState:
		return StateResponse{Event: EventState, Snapshot: e.Snapshot}, true
	case proctor.EventTick:
		return TickResponse{Event: EventTick, Remaining: e.Remaining}, true
	case proctor.EventViolation:
		w := WarningResponse{Event: EventWarning, Violation: e.Violation, Threshold: e.Threshold}
		if e.Notice != nil {
			w.Message = e.Notice.Message
			w.Terminal = e.Notice.Terminal
		}
		return w, true
	case proctor.EventNotice:
		if e.Notice == nil {
			return nil, false
		}
		return NoticeResponse{Event: EventNotice, Level: e.Notice.Level, Message: e.Notice.Message, Terminal: e.Notice.Terminal}, true
	case proctor.EventNavigate:
		return NavigateResponse{Event: EventNavigate, Redirect: e.Redirect}, true
	}
	return nil, false
}
