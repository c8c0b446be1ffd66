package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAnswerValue is returned when a value cannot be shaped for its question type.
var ErrInvalidAnswerValue = errors.New("answer value does not fit question type")

// Answer is the runner's per-question answer state.
type Answer struct {
	QuestionID       string   `json:"question_id"`
	Value            any      `json:"value"`
	StudentAnswerID  string   `json:"student_answer_id,omitempty"`
	Submitted        bool     `json:"submitted"`
	Pending          bool     `json:"pending"`
	TimeSpentSeconds int      `json:"time_spent_seconds"`
	IsCorrect        *bool    `json:"is_correct,omitempty"`
	AwardedMark      *float64 `json:"awarded_mark,omitempty"`
	LastError        string   `json:"last_error,omitempty"`
}

// Answered reports whether the student has given any response.
func (a Answer) Answered() bool {
	return a.Value != nil
}

// SubmitRequest is one answer submission as seen by the backend transport.
type SubmitRequest struct {
	ExamID           string         `json:"-"`
	AttemptID        string         `json:"-"`
	QuestionID       string         `json:"question_id"`
	StudentAnswerID  string         `json:"-"`
	Answer           map[string]any `json:"answer"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
	IdempotencyKey   string         `json:"-"`
}

// SubmitResult is what the backend reports back for an accepted submission.
type SubmitResult struct {
	StudentAnswerID string   `json:"student_answer_id,omitempty"`
	IsCorrect       *bool    `json:"is_correct,omitempty"`
	AwardedMark     *float64 `json:"awarded_mark,omitempty"`
}

// FormatAnswer shapes an opaque answer value into the payload the backend
// expects for the given question type. A nil value clears the answer.
func FormatAnswer(qt QuestionType, value any) (map[string]any, error) {
	if value == nil {
		return map[string]any{"cleared": true}, nil
	}

	switch qt {
	case QuestionTypeMultipleChoice:
		return map[string]any{"selected_option": value}, nil

	case QuestionTypeMultipleAnswer:
		switch v := value.(type) {
		case []any:
			return map[string]any{"selected_options": v}, nil
		case []string:
			opts := make([]any, len(v))
			for i := range v {
				opts[i] = v[i]
			}
			return map[string]any{"selected_options": opts}, nil
		default:
			return map[string]any{"selected_options": []any{v}}, nil
		}

	case QuestionTypeTrueFalse:
		switch v := value.(type) {
		case bool:
			return map[string]any{"answer": v}, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidAnswerValue, v)
			}
			return map[string]any{"answer": b}, nil
		default:
			return nil, fmt.Errorf("%w: %T is not a boolean", ErrInvalidAnswerValue, value)
		}

	case QuestionTypeShortAnswer, QuestionTypeEssay:
		if s, ok := value.(string); ok {
			return map[string]any{"answer_text": s}, nil
		}
		return map[string]any{"answer_text": fmt.Sprint(value)}, nil

	case QuestionTypeMatching:
		return map[string]any{"pairs": value}, nil

	default:
		return map[string]any{"value": value}, nil
	}
}
