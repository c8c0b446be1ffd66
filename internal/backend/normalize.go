package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/stemsi/exstem-runner/internal/model"
)

// flexID accepts identifiers encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type rawExam struct {
	ID              flexID `json:"id"`
	Title           string `json:"title"`
	DurationMinutes *int   `json:"duration_minutes"`
}

type rawAttempt struct {
	ID flexID `json:"id"`
}

type rawQuestion struct {
	ID           flexID          `json:"id"`
	QuestionType string          `json:"question_type"`
	Type         string          `json:"type"`
	QuestionText string          `json:"question_text"`
	Text         string          `json:"text"`
	Options      json.RawMessage `json:"options"`
	Media        []string        `json:"media"`
	OrderNum     int             `json:"order_num"`
}

type rawSavedAnswer struct {
	QuestionID       flexID          `json:"question_id"`
	StudentAnswerID  flexID          `json:"student_answer_id"`
	ID               flexID          `json:"id"`
	Answer           json.RawMessage `json:"answer"`
	Value            json.RawMessage `json:"value"`
	IsCorrect        *bool           `json:"is_correct"`
	AwardedMark      *float64        `json:"awarded_mark"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
}

type rawExamState struct {
	Status           string            `json:"status"`
	Title            string            `json:"title"`
	Exam             *rawExam          `json:"exam"`
	AttemptID        flexID            `json:"attempt_id"`
	Attempt          *rawAttempt       `json:"attempt"`
	DurationSeconds  *int              `json:"duration_seconds"`
	RemainingTime    *float64          `json:"remaining_time"`
	DurationMinutes  *int              `json:"duration_minutes"`
	Questions        []rawQuestion     `json:"questions"`
	SavedAnswers     []rawSavedAnswer  `json:"saved_answers"`
	AutosavedAnswers map[string]string `json:"autosaved_answers"`
}

// NormalizeExamState turns a LoadExam data payload into an ExamState.
// It accepts the layout variants the backend has shipped over time and
// rejects anything it cannot place.
func NormalizeExamState(examID string, data json.RawMessage) (*model.ExamState, error) {
	if isNull(data) {
		return nil, fmt.Errorf("%w: empty exam payload", ErrUnexpectedShape)
	}

	var raw rawExamState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	status, err := resolveStatus(raw)
	if err != nil {
		return nil, err
	}

	state := &model.ExamState{ExamID: examID, Status: status}
	if status == model.LoadStatusRevisionRequired {
		return state, nil
	}

	duration, ok := resolveDuration(raw)
	if !ok {
		return nil, fmt.Errorf("%w: exam payload carries no duration", ErrUnexpectedShape)
	}

	seed := &model.SeedData{
		ExamID:          examID,
		Title:           raw.Title,
		AttemptID:       string(raw.AttemptID),
		DurationSeconds: duration,
		Questions:       make([]model.Question, 0, len(raw.Questions)),
		SavedAnswers:    make(map[string]model.SavedAnswer),
		Resumed:         status == model.LoadStatusInProgress,
	}
	if raw.Exam != nil && seed.Title == "" {
		seed.Title = raw.Exam.Title
	}
	if seed.AttemptID == "" && raw.Attempt != nil {
		seed.AttemptID = string(raw.Attempt.ID)
	}

	for i, q := range raw.Questions {
		seed.Questions = append(seed.Questions, normalizeQuestion(q, i))
	}

	for _, sa := range raw.SavedAnswers {
		qID := string(sa.QuestionID)
		if qID == "" {
			continue
		}
		answerID := sa.StudentAnswerID
		if answerID == "" {
			answerID = sa.ID
		}
		payload := sa.Answer
		if isNull(payload) {
			payload = sa.Value
		}
		seed.SavedAnswers[qID] = model.SavedAnswer{
			QuestionID:       qID,
			StudentAnswerID:  string(answerID),
			Value:            decodeAnswerValue(payload),
			IsCorrect:        sa.IsCorrect,
			AwardedMark:      sa.AwardedMark,
			TimeSpentSeconds: sa.TimeSpentSeconds,
		}
	}

	// The autosave stream stores answers as strings keyed by question ID.
	for qID, s := range raw.AutosavedAnswers {
		if _, seen := seed.SavedAnswers[qID]; seen {
			continue
		}
		seed.SavedAnswers[qID] = model.SavedAnswer{
			QuestionID: qID,
			Value:      decodeAutosaved(s),
		}
	}

	state.Seed = seed
	return state, nil
}

// resolveStatus reads the explicit status. Payloads without one are
// classified by whether the student already has answers on record.
func resolveStatus(raw rawExamState) (model.LoadStatus, error) {
	if strings.TrimSpace(raw.Status) != "" {
		status, ok := model.ParseLoadStatus(raw.Status)
		if !ok {
			return "", fmt.Errorf("%w: unknown attempt status %q", ErrUnexpectedShape, raw.Status)
		}
		return status, nil
	}
	if len(raw.Questions) == 0 {
		return "", fmt.Errorf("%w: exam payload has neither status nor questions", ErrUnexpectedShape)
	}
	if len(raw.SavedAnswers) > 0 || len(raw.AutosavedAnswers) > 0 {
		return model.LoadStatusInProgress, nil
	}
	return model.LoadStatusFresh, nil
}

// resolveDuration prefers an explicit second count, then the remaining time
// of a running attempt, then the exam's nominal length in minutes.
func resolveDuration(raw rawExamState) (int, bool) {
	switch {
	case raw.DurationSeconds != nil:
		return *raw.DurationSeconds, true
	case raw.RemainingTime != nil:
		return int(math.Floor(*raw.RemainingTime)), true
	case raw.DurationMinutes != nil:
		return *raw.DurationMinutes * 60, true
	case raw.Exam != nil && raw.Exam.DurationMinutes != nil:
		return *raw.Exam.DurationMinutes * 60, true
	default:
		return 0, false
	}
}

func normalizeQuestion(q rawQuestion, index int) model.Question {
	qt := q.QuestionType
	if qt == "" {
		qt = q.Type
	}
	text := q.QuestionText
	if text == "" {
		text = q.Text
	}
	order := q.OrderNum
	if order == 0 {
		order = index + 1
	}
	return model.Question{
		ID:           string(q.ID),
		QuestionType: model.NormalizeQuestionType(qt),
		QuestionText: text,
		Options:      q.Options,
		Media:        q.Media,
		OrderNum:     order,
	}
}

// decodeAnswerValue recovers the opaque answer value from a stored payload.
// Payloads written by the runner itself are objects keyed by question type.
func decodeAnswerValue(raw json.RawMessage) any {
	if isNull(raw) {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return unwrapAnswer(v)
}

func decodeAutosaved(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return unwrapAnswer(v)
	}
	return s
}

var answerKeys = []string{"selected_option", "selected_options", "answer_text", "answer", "pairs", "value"}

func unwrapAnswer(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if cleared, _ := obj["cleared"].(bool); cleared {
		return nil
	}
	for _, k := range answerKeys {
		if inner, ok := obj[k]; ok {
			return inner
		}
	}
	return obj
}

// normalizeSubmitResult reads the optional result of a submission. A success
// without data keeps the answer row the request was sent for.
func normalizeSubmitResult(data json.RawMessage, fallbackID string) (*model.SubmitResult, error) {
	result := &model.SubmitResult{StudentAnswerID: fallbackID}
	if isNull(data) {
		return result, nil
	}

	var raw struct {
		StudentAnswerID flexID   `json:"student_answer_id"`
		ID              flexID   `json:"id"`
		IsCorrect       *bool    `json:"is_correct"`
		AwardedMark     *float64 `json:"awarded_mark"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	switch {
	case raw.StudentAnswerID != "":
		result.StudentAnswerID = string(raw.StudentAnswerID)
	case raw.ID != "":
		result.StudentAnswerID = string(raw.ID)
	}
	result.IsCorrect = raw.IsCorrect
	result.AwardedMark = raw.AwardedMark
	return result, nil
}

