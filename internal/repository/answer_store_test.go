package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/model"
)

func seedQuestions() []model.Question {
	return []model.Question{
		{ID: "q1", QuestionType: model.QuestionTypeMultipleChoice},
		{ID: "q2", QuestionType: model.QuestionTypeEssay},
		{ID: "q3", QuestionType: model.QuestionTypeTrueFalse},
	}
}

func TestSeedCreatesOneAnswerPerQuestion(t *testing.T) {
	store := NewAnswerStore()
	correct := true
	mark := 2.5
	store.Seed(seedQuestions(), map[string]model.SavedAnswer{
		"q2": {QuestionID: "q2", StudentAnswerID: "sa-2", Value: "photosynthesis", IsCorrect: &correct, AwardedMark: &mark, TimeSpentSeconds: 40},
		"q3": {QuestionID: "q3", StudentAnswerID: "sa-3", Value: nil},
	})

	require.Equal(t, 3, store.Len())

	q1, ok := store.Get("q1")
	require.True(t, ok)
	assert.Nil(t, q1.Value)
	assert.False(t, q1.Submitted)

	q2, _ := store.Get("q2")
	assert.Equal(t, "photosynthesis", q2.Value)
	assert.True(t, q2.Submitted)
	assert.Equal(t, "sa-2", q2.StudentAnswerID)
	assert.Equal(t, 40, q2.TimeSpentSeconds)
	require.NotNil(t, q2.IsCorrect)
	assert.True(t, *q2.IsCorrect)

	q3, _ := store.Get("q3")
	assert.False(t, q3.Submitted, "saved entry without a value is not submitted")
	assert.Equal(t, "sa-3", q3.StudentAnswerID)

	assert.Equal(t, 1, store.AnsweredCount())
}

func TestSeedIsIdempotent(t *testing.T) {
	saved := map[string]model.SavedAnswer{"q1": {QuestionID: "q1", StudentAnswerID: "sa-1", Value: "B"}}

	store := NewAnswerStore()
	store.Seed(seedQuestions(), saved)
	first := store.Snapshot()

	store.Seed(seedQuestions(), saved)
	assert.Equal(t, first, store.Snapshot())
	assert.Equal(t, 3, store.Len())

	other := NewAnswerStore()
	other.Seed(seedQuestions(), saved)
	assert.Equal(t, first, other.Snapshot())
}

func TestSeedKeepsEntryIdentity(t *testing.T) {
	store := NewAnswerStore()
	store.Seed(seedQuestions(), nil)
	before := store.answers["q1"]

	store.Seed(seedQuestions(), nil)
	assert.Same(t, before, store.answers["q1"])
}

func TestReseedDropsRemovedQuestions(t *testing.T) {
	store := NewAnswerStore()
	store.Seed(seedQuestions(), nil)

	store.Seed(seedQuestions()[:2], nil)
	assert.Equal(t, 2, store.Len())

	_, ok := store.Get("q3")
	assert.False(t, ok)
	assert.ErrorIs(t, store.SetValue("q3", true), ErrUnknownQuestion)

	ids := make([]string, 0, 2)
	for _, a := range store.Snapshot() {
		ids = append(ids, a.QuestionID)
	}
	assert.Equal(t, []string{"q1", "q2"}, ids)
}

func TestSetValueKeepsSubmittedFlag(t *testing.T) {
	store := NewAnswerStore()
	store.Seed(seedQuestions(), map[string]model.SavedAnswer{"q1": {QuestionID: "q1", Value: "A"}})

	require.NoError(t, store.SetValue("q1", "C"))

	a, _ := store.Get("q1")
	assert.Equal(t, "C", a.Value)
	assert.True(t, a.Submitted)
	assert.True(t, a.Pending)

	assert.ErrorIs(t, store.SetValue("nope", "x"), ErrUnknownQuestion)
}

func TestMarkSubmittedOnlyConfirmsCurrentValue(t *testing.T) {
	store := NewAnswerStore()
	store.Seed(seedQuestions(), nil)

	require.NoError(t, store.SetValue("q1", "A"))
	require.NoError(t, store.SetValue("q1", "B"))

	// The "A" submission lands after the student moved on to "B".
	require.NoError(t, store.MarkSubmitted("q1", "A", &model.SubmitResult{StudentAnswerID: "sa-1"}))
	a, _ := store.Get("q1")
	assert.False(t, a.Submitted)
	assert.True(t, a.Pending)
	assert.Equal(t, "sa-1", a.StudentAnswerID)

	require.NoError(t, store.MarkSubmitted("q1", "B", nil))
	a, _ = store.Get("q1")
	assert.True(t, a.Submitted)
	assert.False(t, a.Pending)
	assert.Equal(t, "sa-1", a.StudentAnswerID)
}

func TestMarkFailedLeavesSubmittedUntouched(t *testing.T) {
	store := NewAnswerStore()
	store.Seed(seedQuestions(), nil)
	require.NoError(t, store.SetValue("q2", "draft"))

	require.NoError(t, store.MarkFailed("q2", errors.New("gateway timeout")))

	a, _ := store.Get("q2")
	assert.False(t, a.Submitted)
	assert.Equal(t, "gateway timeout", a.LastError)

	require.NoError(t, store.MarkSubmitted("q2", "draft", nil))
	a, _ = store.Get("q2")
	assert.True(t, a.Submitted)
	assert.Empty(t, a.LastError)
}

func TestAddTimeSpent(t *testing.T) {
	store := NewAnswerStore()
	store.Seed(seedQuestions(), nil)

	store.AddTimeSpent("q1", 12)
	store.AddTimeSpent("q1", 3)
	store.AddTimeSpent("q1", -5)
	store.AddTimeSpent("ghost", 10)

	a, _ := store.Get("q1")
	assert.Equal(t, 15, a.TimeSpentSeconds)
}
