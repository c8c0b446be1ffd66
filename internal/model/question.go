package model

import (
	"encoding/json"
)

// Question is a single exam question as delivered to the runner.
// Immutable once the session is loaded.
type Question struct {
	ID           string          `json:"id"`
	QuestionType QuestionType    `json:"question_type"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
	Media        []string        `json:"media,omitempty"`
	OrderNum     int             `json:"order_num"`
}

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeMultipleAnswer QuestionType = "MULTIPLE_ANSWER"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeEssay          QuestionType = "ESSAY"
	QuestionTypeMatching       QuestionType = "MATCHING"
)

// NormalizeQuestionType maps the spellings seen in backend payloads
// ("multiple-choice", "mcq", "essay") onto the canonical constants.
// Unknown types are upper-cased and passed through; they are opaque here.
func NormalizeQuestionType(raw string) QuestionType {
	switch normalizeToken(raw) {
	case "MULTIPLE_CHOICE", "MCQ", "SINGLE_CHOICE":
		return QuestionTypeMultipleChoice
	case "MULTIPLE_ANSWER", "MULTIPLE_SELECT", "CHECKBOX":
		return QuestionTypeMultipleAnswer
	case "TRUE_FALSE", "BOOLEAN":
		return QuestionTypeTrueFalse
	case "SHORT_ANSWER", "FILL_IN", "FILL_IN_THE_BLANK":
		return QuestionTypeShortAnswer
	case "ESSAY", "LONG_ANSWER":
		return QuestionTypeEssay
	case "MATCHING":
		return QuestionTypeMatching
	default:
		return QuestionType(normalizeToken(raw))
	}
}
