package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
)

// fakeBackend records submissions and holds each call until the gate opens.
type fakeBackend struct {
	mu       sync.Mutex
	calls    []model.SubmitRequest
	at       []time.Time
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	started  chan string
	gate     chan struct{}
	fail     map[int]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		started: make(chan string, 16),
		gate:    make(chan struct{}),
		fail:    map[int]error{},
	}
}

func (f *fakeBackend) submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxSeen.Load()
		if n <= peak || f.maxSeen.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, req)
	f.at = append(f.at, time.Now())
	err := f.fail[idx]
	f.mu.Unlock()

	f.started <- req.QuestionID
	select {
	case <-f.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &model.SubmitResult{StudentAnswerID: "sa-" + req.QuestionID}, nil
}

func (f *fakeBackend) snapshot() []model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmitRequest(nil), f.calls...)
}

func seededStore(t *testing.T) *repository.AnswerStore {
	t.Helper()
	store := repository.NewAnswerStore()
	store.Seed([]model.Question{
		{ID: "q1", QuestionType: model.QuestionTypeMultipleChoice},
		{ID: "q2", QuestionType: model.QuestionTypeMultipleChoice},
		{ID: "q3", QuestionType: model.QuestionTypeShortAnswer},
	}, nil)
	return store
}

func cancelledCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func drain(t *testing.T, s *SubmissionSerializer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))
}

func TestSerializerOneInFlightAndCoalescesQueuedQuestion(t *testing.T) {
	store := seededStore(t)
	backend := newFakeBackend()
	ser := NewSubmissionSerializer(store, backend.submit, SerializerConfig{
		ExamID:    "exam-1",
		AttemptID: "att-1",
		TimeSpent: func(qid string) int { return len(qid) },
	}, zerolog.Nop())

	require.NoError(t, store.SetValue("q1", "A"))
	first := make(chan error, 1)
	go func() {
		_, err := ser.Submit(context.Background(), "q1", "A", model.QuestionTypeMultipleChoice)
		first <- err
	}()
	assert.Equal(t, "q1", <-backend.started)
	assert.True(t, ser.Busy())

	// Callers that stop waiting leave their entry queued.
	require.NoError(t, store.SetValue("q2", "A"))
	_, err := ser.Submit(cancelledCtx(), "q2", "A", model.QuestionTypeMultipleChoice)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, store.SetValue("q3", "mitochondria"))
	_, _ = ser.Submit(cancelledCtx(), "q3", "mitochondria", model.QuestionTypeShortAnswer)
	require.NoError(t, store.SetValue("q2", "C"))
	_, _ = ser.Submit(cancelledCtx(), "q2", "C", model.QuestionTypeMultipleChoice)
	assert.Equal(t, 2, ser.Pending())

	close(backend.gate)
	require.NoError(t, <-first)
	drain(t, ser)

	calls := backend.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "q1", calls[0].QuestionID)
	assert.Equal(t, "q2", calls[1].QuestionID)
	assert.Equal(t, map[string]any{"selected_option": "C"}, calls[1].Answer)
	assert.Equal(t, "q3", calls[2].QuestionID)
	assert.Equal(t, map[string]any{"answer_text": "mitochondria"}, calls[2].Answer)
	assert.Equal(t, 2, calls[1].TimeSpentSeconds)
	assert.NotEqual(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
	assert.EqualValues(t, 1, backend.maxSeen.Load())

	q2, _ := store.Get("q2")
	assert.True(t, q2.Submitted)
	assert.False(t, q2.Pending)
	assert.Equal(t, "sa-q2", q2.StudentAnswerID)
	assert.False(t, ser.Busy())
}

func TestSerializerCoalescedCallersShareResult(t *testing.T) {
	store := seededStore(t)
	backend := newFakeBackend()
	ser := NewSubmissionSerializer(store, backend.submit, SerializerConfig{}, zerolog.Nop())

	go func() { _, _ = ser.Submit(context.Background(), "q1", "A", model.QuestionTypeMultipleChoice) }()
	<-backend.started

	results := make(chan *model.SubmitResult, 2)
	var wg sync.WaitGroup
	for _, v := range []string{"B", "D"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			res, err := ser.Submit(context.Background(), "q2", v, model.QuestionTypeMultipleChoice)
			assert.NoError(t, err)
			results <- res
		}(v)
	}
	require.Eventually(t, func() bool { return ser.Pending() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	close(backend.gate)
	wg.Wait()
	close(results)

	var got []*model.SubmitResult
	for r := range results {
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Same(t, got[0], got[1])
	assert.Len(t, backend.snapshot(), 2)
}

func TestSerializerFailureThenResubmit(t *testing.T) {
	store := seededStore(t)
	backend := newFakeBackend()
	backend.fail[0] = errors.New("backend unavailable")
	close(backend.gate)
	ser := NewSubmissionSerializer(store, backend.submit, SerializerConfig{}, zerolog.Nop())

	require.NoError(t, store.SetValue("q1", "B"))
	_, err := ser.Submit(context.Background(), "q1", "B", model.QuestionTypeMultipleChoice)
	require.Error(t, err)

	q1, _ := store.Get("q1")
	assert.False(t, q1.Submitted)
	assert.Equal(t, "backend unavailable", q1.LastError)
	assert.Len(t, backend.snapshot(), 1, "failed submissions are not retried")

	res, err := ser.Submit(context.Background(), "q1", "B", model.QuestionTypeMultipleChoice)
	require.NoError(t, err)
	assert.Equal(t, "sa-q1", res.StudentAnswerID)

	q1, _ = store.Get("q1")
	assert.True(t, q1.Submitted)
	assert.Empty(t, q1.LastError)
}

func TestSerializerInvalidValueNeverReachesBackend(t *testing.T) {
	store := repository.NewAnswerStore()
	store.Seed([]model.Question{{ID: "tf", QuestionType: model.QuestionTypeTrueFalse}}, nil)
	backend := newFakeBackend()
	ser := NewSubmissionSerializer(store, backend.submit, SerializerConfig{}, zerolog.Nop())

	_, err := ser.Submit(context.Background(), "tf", "perhaps", model.QuestionTypeTrueFalse)
	assert.ErrorIs(t, err, model.ErrInvalidAnswerValue)
	assert.Empty(t, backend.snapshot())

	_, err = ser.Submit(context.Background(), "missing", "x", model.QuestionTypeEssay)
	assert.ErrorIs(t, err, repository.ErrUnknownQuestion)
}

func TestSerializerWaitsDelayBetweenSubmissions(t *testing.T) {
	store := seededStore(t)
	backend := newFakeBackend()
	delay := 40 * time.Millisecond
	ser := NewSubmissionSerializer(store, backend.submit, SerializerConfig{Delay: delay}, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = ser.Submit(context.Background(), "q1", "A", model.QuestionTypeMultipleChoice)
	}()
	<-backend.started
	_, _ = ser.Submit(cancelledCtx(), "q2", "B", model.QuestionTypeMultipleChoice)
	close(backend.gate)
	wg.Wait()
	drain(t, ser)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.at, 2)
	assert.GreaterOrEqual(t, backend.at[1].Sub(backend.at[0]), delay)
}

func TestSerializerCloseDropsQueue(t *testing.T) {
	store := seededStore(t)
	backend := newFakeBackend()
	ser := NewSubmissionSerializer(store, backend.submit, SerializerConfig{}, zerolog.Nop())

	require.NoError(t, store.SetValue("q1", "A"))
	inFlight := make(chan error, 1)
	go func() {
		_, err := ser.Submit(context.Background(), "q1", "A", model.QuestionTypeMultipleChoice)
		inFlight <- err
	}()
	<-backend.started

	queued := make(chan error, 1)
	go func() {
		_, err := ser.Submit(context.Background(), "q2", "B", model.QuestionTypeMultipleChoice)
		queued <- err
	}()
	require.Eventually(t, func() bool { return ser.Pending() == 1 }, time.Second, time.Millisecond)

	ser.Close()
	assert.ErrorIs(t, <-queued, ErrSerializerClosed)

	close(backend.gate)
	assert.ErrorIs(t, <-inFlight, ErrSerializerClosed)
	drain(t, ser)

	q1, _ := store.Get("q1")
	assert.False(t, q1.Submitted, "result arriving after close is discarded")
	assert.Len(t, backend.snapshot(), 1)

	_, err := ser.Submit(context.Background(), "q3", "x", model.QuestionTypeShortAnswer)
	assert.ErrorIs(t, err, ErrSerializerClosed)
	ser.Close()
}
