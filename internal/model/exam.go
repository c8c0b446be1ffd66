package model

import (
	"strings"
)

// LoadStatus is the discriminant of the backend's "state of my attempt" answer.
type LoadStatus string

const (
	LoadStatusFresh            LoadStatus = "fresh"
	LoadStatusInProgress       LoadStatus = "in-progress"
	LoadStatusRevisionRequired LoadStatus = "revision"
)

// ParseLoadStatus accepts the historical spellings of the attempt status and
// reports false for anything it does not recognize.
func ParseLoadStatus(raw string) (LoadStatus, bool) {
	switch normalizeToken(raw) {
	case "FRESH", "NEW", "NOT_STARTED", "AVAILABLE", "START":
		return LoadStatusFresh, true
	case "IN_PROGRESS", "INPROGRESS", "CONTINUE", "RESUME", "RETAKE":
		return LoadStatusInProgress, true
	case "REVISION", "REVISION_REQUIRED", "REQUIRES_REVISION", "UNDER_REVIEW":
		return LoadStatusRevisionRequired, true
	default:
		return "", false
	}
}

// ExamState is the normalized backend answer to LoadExam.
// Seed is nil when Status is LoadStatusRevisionRequired.
type ExamState struct {
	ExamID string
	Status LoadStatus
	Seed   *SeedData
}

// SeedData is everything the runner needs to start (or resume) an attempt.
type SeedData struct {
	ExamID          string                 `json:"exam_id"`
	Title           string                 `json:"title"`
	AttemptID       string                 `json:"attempt_id"`
	DurationSeconds int                    `json:"duration_seconds"`
	Questions       []Question             `json:"questions"`
	SavedAnswers    map[string]SavedAnswer `json:"saved_answers,omitempty"`
	Resumed         bool                   `json:"resumed"`
}

// SavedAnswer is the server's record of a question answered in an earlier
// visit to the same attempt.
type SavedAnswer struct {
	QuestionID       string   `json:"question_id"`
	StudentAnswerID  string   `json:"student_answer_id,omitempty"`
	Value            any      `json:"value"`
	IsCorrect        *bool    `json:"is_correct,omitempty"`
	AwardedMark      *float64 `json:"awarded_mark,omitempty"`
	TimeSpentSeconds int      `json:"time_spent_seconds"`
}

func normalizeToken(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
