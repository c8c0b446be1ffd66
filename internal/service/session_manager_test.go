package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/model"
)

func TestSessionManagerReusesLiveSession(t *testing.T) {
	h := newHarness(t, threeQuestionSeed())
	m := NewSessionManager(h.deps)

	first, err := m.Open(context.Background(), "exam-1")
	require.NoError(t, err)
	second, err := m.Open(context.Background(), "exam-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, h.resolver.Calls())

	got, ok := m.Get("exam-1")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestSessionManagerRetakeAfterFinish(t *testing.T) {
	h := newHarness(t, threeQuestionSeed())
	m := NewSessionManager(h.deps)

	first, err := m.Open(context.Background(), "exam-1")
	require.NoError(t, err)
	require.NoError(t, first.EndExam(context.Background()))

	second, err := m.Open(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, model.SessionStatusActive, second.Status())
	assert.Equal(t, 2, h.resolver.Calls())
}

func TestSessionManagerCloseAndCloseAll(t *testing.T) {
	h := newHarness(t, threeQuestionSeed())
	m := NewSessionManager(h.deps)

	a, err := m.Open(context.Background(), "exam-1")
	require.NoError(t, err)
	b, err := m.Open(context.Background(), "exam-2")
	require.NoError(t, err)

	assert.True(t, m.Close("exam-1"))
	assert.False(t, m.Close("exam-1"))
	assert.Equal(t, model.ExitClosed, a.Exit())
	_, ok := m.Get("exam-1")
	assert.False(t, ok)

	m.CloseAll()
	assert.Equal(t, model.ExitClosed, b.Exit())
	_, ok = m.Get("exam-2")
	assert.False(t, ok)
	assert.Zero(t, h.sched.Active())
}

func TestSessionManagerReturnsMountError(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.err = newLoadError("LOAD_FAILED", errNetwork)
	m := NewSessionManager(h.deps)

	sess, err := m.Open(context.Background(), "exam-1")
	require.Error(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, model.SessionStatusErrored, sess.Status())

	h.resolver.err = nil
	h.resolver.res = &Resolution{Outcome: OutcomeSeeded, Seed: threeQuestionSeed()}
	retry, err := m.Open(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusActive, retry.Status())
}
