package model

import (
	"encoding/json"
	"fmt"
)

// SessionStatus enumerates the runner-side states of one exam attempt.
type SessionStatus string

const (
	SessionStatusLoading   SessionStatus = "loading"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusFinishing SessionStatus = "finishing"
	SessionStatusFinished  SessionStatus = "finished"
	SessionStatusErrored   SessionStatus = "errored"
	SessionStatusRevision  SessionStatus = "revision"
	SessionStatusClosed    SessionStatus = "closed"
)

// ExitReason tells the UI why a session left the runner.
type ExitReason string

const (
	ExitNone     ExitReason = ""
	ExitFinished ExitReason = "finished"
	ExitRevision ExitReason = "revision"
	ExitErrored  ExitReason = "errored"
	ExitClosed   ExitReason = "closed"
)

// Progress is the navigation summary shown next to the question.
type Progress struct {
	Current       int `json:"current"`
	Total         int `json:"total"`
	AnsweredCount int `json:"answered_count"`
}

// SessionView is the read-only projection handed to the UI layer.
type SessionView struct {
	ExamID                 string        `json:"exam_id"`
	AttemptID              string        `json:"attempt_id,omitempty"`
	Title                  string        `json:"title,omitempty"`
	Status                 SessionStatus `json:"status"`
	Exit                   ExitReason    `json:"exit,omitempty"`
	CurrentIndex           int           `json:"current_index"`
	CurrentQuestion        *Question     `json:"current_question,omitempty"`
	CurrentAnswer          *Answer       `json:"current_answer,omitempty"`
	Progress               Progress      `json:"progress"`
	RemainingSeconds       int           `json:"remaining_seconds"`
	FormattedRemainingTime string        `json:"formatted_remaining_time"`
	Loading                bool          `json:"loading"`
	Error                  string        `json:"error,omitempty"`
	Submitting             bool          `json:"submitting"`
}

// FormatRemaining renders seconds as MM:SS, or HH:MM:SS from one hour up.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ─── Bridge requests ────────────────────────────────────────────────

// SessionURI carries the path parameters of the session routes.
type SessionURI struct {
	ExamID string `uri:"exam_id" binding:"required,max=64"`
}

// AnswerURI carries the path parameters of the answer routes.
type AnswerURI struct {
	ExamID     string `uri:"exam_id" binding:"required,max=64"`
	QuestionID string `uri:"question_id" binding:"required,max=64"`
}

// AnswerRequest is the body of updateAnswer and submitAnswer.
// A JSON null value clears the answer.
type AnswerRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// Decode returns the opaque answer value.
func (r AnswerRequest) Decode() (any, error) {
	var v any
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerValue, err)
	}
	return v, nil
}

// NavigationAction names a question navigation step.
type NavigationAction string

const (
	NavigateNext     NavigationAction = "next"
	NavigatePrevious NavigationAction = "previous"
	NavigateGoTo     NavigationAction = "goto"
)

// NavigationRequest is the body of the navigation route. Index is zero-based
// and required for goto.
type NavigationRequest struct {
	Action NavigationAction `json:"action" binding:"required,oneof=next previous goto"`
	Index  *int             `json:"index" binding:"omitempty,min=0"`
}
