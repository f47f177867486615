package websocket

import "github.com/stemsi/examhub/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionGoTo     Action = "goto"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message. Fields are action specific.
type RequestPayload struct {
	Action Action  `json:"action"`
	Value  *string `json:"value,omitempty"` // answer
	Index  *int    `json:"index,omitempty"` // goto
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState   Event = "state"
	EventTick    Event = "tick"
	EventExpired Event = "expired"
	EventGraded  Event = "graded"
	EventStale   Event = "stale"
	EventError   Event = "error"
	EventPong    Event = "pong"
)

// StateResponse carries the full display state after a change.
type StateResponse struct {
	Event Event              `json:"event"`
	State model.DisplayState `json:"state"`
	Moved *bool              `json:"moved,omitempty"`
}

// TickResponse is sent once per countdown step.
type TickResponse struct {
	Event         Event `json:"event"`
	TimeRemaining int   `json:"timeRemaining"`
}

// GradedResponse is sent once the attempt has a result.
type GradedResponse struct {
	Event      Event             `json:"event"`
	Result     *model.ExamResult `json:"result"`
	NavigateTo model.Destination `json:"navigateTo"`
}

// ErrorResponse reports a failed action. Code matches the HTTP API codes.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// SignalResponse is an event without payload (expired, stale, pong).
type SignalResponse struct {
	Event Event `json:"event"`
}
