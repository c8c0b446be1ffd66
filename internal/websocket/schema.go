package websocket

// ─── Actions (Runner → Backend) ─────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
)

// AutosaveRequest saves a single answer over the exam stream.
// Answer carries the JSON-encoded answer payload as a string.
type AutosaveRequest struct {
	Action          Action `json:"action"`
	QID             string `json:"q_id"`
	Answer          string `json:"ans"`
	StudentAnswerID string `json:"student_answer_id,omitempty"`
	TimeSpent       int    `json:"time_spent_seconds"`
	RequestID       string `json:"request_id,omitempty"`
}

// ─── Events (Backend → Runner) ──────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

// EventMessage is the union of every event the stream can deliver.
type EventMessage struct {
	Event           Event    `json:"event"`
	Status          string   `json:"status,omitempty"`
	Error           string   `json:"error,omitempty"`
	RequestID       string   `json:"request_id,omitempty"`
	StudentAnswerID string   `json:"student_answer_id,omitempty"`
	IsCorrect       *bool    `json:"is_correct,omitempty"`
	AwardedMark     *float64 `json:"awarded_mark,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
