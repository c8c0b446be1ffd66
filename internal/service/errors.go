package service

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-runner/internal/response"
)

var (
	ErrSessionNotActive        = errors.New("exam session is not active")
	ErrSessionNotFound         = errors.New("exam session not found")
	ErrAlreadyMounted          = errors.New("exam session already mounted")
	ErrSessionClosed           = errors.New("exam session closed")
	ErrQuestionIndexOutOfRange = errors.New("question index out of range")
)

// LoadError means the exam could not be loaded. Message is safe to show to
// the student.
type LoadError struct {
	Code    response.ErrCode
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load exam (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("load exam (%s): %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

func newLoadError(code response.ErrCode, err error) *LoadError {
	return &LoadError{Code: code, Message: response.GetMessage(code), Err: err}
}

// SubmissionError means one answer did not reach the backend. The answer
// stays unconfirmed and can be submitted again.
type SubmissionError struct {
	QuestionID string
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit answer %s: %v", e.QuestionID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
