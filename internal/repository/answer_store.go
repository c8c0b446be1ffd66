package repository

import (
	"errors"
	"reflect"
	"sync"

	"github.com/stemsi/exstem-runner/internal/model"
)

// ErrUnknownQuestion is returned for a question ID that was never seeded.
var ErrUnknownQuestion = errors.New("question is not part of this session")

// AnswerStore holds one Answer per question for the lifetime of a session.
// Entries are created by Seed and mutated in place; only a later Seed
// without their question removes them.
type AnswerStore struct {
	mu      sync.RWMutex
	order   []string
	answers map[string]*model.Answer
}

// NewAnswerStore creates an empty AnswerStore.
func NewAnswerStore() *AnswerStore {
	return &AnswerStore{answers: make(map[string]*model.Answer)}
}

// Seed installs one Answer per question. Saved answers from an earlier visit
// come back with Submitted set when they carry a value. Seeding again with the
// same input leaves identical content; existing entries are updated in place
// and entries for questions no longer listed are dropped.
func (s *AnswerStore) Seed(questions []model.Question, saved map[string]model.SavedAnswer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]string, 0, len(questions))
	for _, q := range questions {
		a, ok := s.answers[q.ID]
		if !ok {
			a = &model.Answer{}
			s.answers[q.ID] = a
		}
		*a = model.Answer{QuestionID: q.ID}

		if sv, ok := saved[q.ID]; ok {
			a.Value = sv.Value
			a.StudentAnswerID = sv.StudentAnswerID
			a.Submitted = sv.Value != nil
			a.TimeSpentSeconds = sv.TimeSpentSeconds
			a.IsCorrect = sv.IsCorrect
			a.AwardedMark = sv.AwardedMark
		}
		order = append(order, q.ID)
	}
	s.order = order

	keep := make(map[string]struct{}, len(order))
	for _, id := range order {
		keep[id] = struct{}{}
	}
	for id := range s.answers {
		if _, ok := keep[id]; !ok {
			delete(s.answers, id)
		}
	}
}

// Get returns a copy of the answer for questionID.
func (s *AnswerStore) Get(questionID string) (model.Answer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.answers[questionID]
	if !ok {
		return model.Answer{}, false
	}
	return *a, true
}

// SetValue overwrites the value only. Submitted keeps its last-known state
// until the next submission for this question resolves.
func (s *AnswerStore) SetValue(questionID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.answers[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if a.Submitted && !a.Pending && reflect.DeepEqual(a.Value, value) {
		return nil
	}
	a.Value = value
	a.Pending = true
	return nil
}

// MarkSubmitted records a successful submission of sentValue. Submitted only
// flips to true when sentValue is still the current value; a newer edit stays
// pending until its own submission lands.
func (s *AnswerStore) MarkSubmitted(questionID string, sentValue any, result *model.SubmitResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.answers[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if result != nil {
		if result.StudentAnswerID != "" {
			a.StudentAnswerID = result.StudentAnswerID
		}
		a.IsCorrect = result.IsCorrect
		a.AwardedMark = result.AwardedMark
	}
	a.LastError = ""
	if reflect.DeepEqual(a.Value, sentValue) {
		a.Submitted = sentValue != nil
		a.Pending = false
	}
	return nil
}

// MarkFailed records a failed submission. Submitted is left untouched.
func (s *AnswerStore) MarkFailed(questionID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.answers[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if cause != nil {
		a.LastError = cause.Error()
	}
	return nil
}

// AddTimeSpent accumulates seconds the question spent as the current one.
func (s *AnswerStore) AddTimeSpent(questionID string, seconds int) {
	if seconds <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.answers[questionID]; ok {
		a.TimeSpentSeconds += seconds
	}
}

// AnsweredCount counts questions with a non-null value.
func (s *AnswerStore) AnsweredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, id := range s.order {
		if s.answers[id].Answered() {
			n++
		}
	}
	return n
}

// Snapshot returns copies of all answers in question order.
func (s *AnswerStore) Snapshot() []model.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Answer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.answers[id])
	}
	return out
}

// Len returns the number of seeded answers.
func (s *AnswerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
