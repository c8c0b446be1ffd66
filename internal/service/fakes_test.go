package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/clock"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/worker"
)

var errNetwork = errors.New("dial tcp: connection refused")

type fakeResolver struct {
	mu    sync.Mutex
	res   *Resolution
	err   error
	calls int
}

func (f *fakeResolver) Load(ctx context.Context, examID string) (*Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// Hand out a fresh copy each time, like a real fetch would.
	res := *f.res
	if res.Seed != nil {
		seed := *res.Seed
		res.Seed = &seed
	}
	return &res, nil
}

func (f *fakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeBackend implements AnswerSubmitter and AttemptFinisher.
type fakeBackend struct {
	mu          sync.Mutex
	submits     []model.SubmitRequest
	finishes    []string
	submitErrs  []error
	finishErr   error
	submitGate  chan struct{}
	submitStart chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{submitStart: make(chan string, 32)}
}

func (f *fakeBackend) SubmitAnswer(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	var err error
	if len(f.submitErrs) > 0 {
		err, f.submitErrs = f.submitErrs[0], f.submitErrs[1:]
	}
	gate := f.submitGate
	f.mu.Unlock()

	f.submitStart <- req.QuestionID
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &model.SubmitResult{StudentAnswerID: "sa-" + req.QuestionID}, nil
}

func (f *fakeBackend) FinishAttempt(ctx context.Context, attemptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, attemptID)
	return f.finishErr
}

func (f *fakeBackend) Submits() []model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmitRequest(nil), f.submits...)
}

func (f *fakeBackend) Finishes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finishes...)
}

type memDrafts struct {
	mu      sync.Mutex
	owner   map[string]string
	drafts  map[string]map[string]any
	cleared int
}

func newMemDrafts() *memDrafts {
	return &memDrafts{owner: map[string]string{}, drafts: map[string]map[string]any{}}
}

func (m *memDrafts) Save(ctx context.Context, examID, attemptID, questionID string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner[examID] = attemptID
	if m.drafts[examID] == nil {
		m.drafts[examID] = map[string]any{}
	}
	m.drafts[examID][questionID] = value
	return nil
}

func (m *memDrafts) Load(ctx context.Context, examID, attemptID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner[examID] != attemptID {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	for k, v := range m.drafts[examID] {
		out[k] = v
	}
	return out, nil
}

func (m *memDrafts) Discard(ctx context.Context, examID, questionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts[examID], questionID)
	return nil
}

func (m *memDrafts) Clear(ctx context.Context, examID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, examID)
	delete(m.owner, examID)
	m.cleared++
	return nil
}

func (m *memDrafts) Get(examID, questionID string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.drafts[examID][questionID]
	return v, ok
}

type harness struct {
	resolver *fakeResolver
	backend  *fakeBackend
	drafts   *memDrafts
	sched    *worker.ManualScheduler
	clock    *clock.Fake
	deps     SessionDeps
}

func newHarness(t *testing.T, seed *model.SeedData) *harness {
	t.Helper()
	h := &harness{
		resolver: &fakeResolver{res: &Resolution{Outcome: OutcomeSeeded, Seed: seed}},
		backend:  newFakeBackend(),
		drafts:   newMemDrafts(),
		sched:    worker.NewManualScheduler(),
		clock:    clock.NewFake(time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)),
	}
	h.deps = SessionDeps{
		Resolver:        h.resolver,
		Submitter:       h.backend,
		Finisher:        h.backend,
		Drafts:          h.drafts,
		Scheduler:       h.sched,
		Clock:           h.clock,
		FinalizeTimeout: 2 * time.Second,
		Log:             zerolog.Nop(),
	}
	return h
}

func (h *harness) mount(t *testing.T) *ExamSession {
	t.Helper()
	sess := NewExamSession("exam-1", h.deps)
	if _, err := sess.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	return sess
}

func threeQuestionSeed() *model.SeedData {
	return &model.SeedData{
		ExamID:          "exam-1",
		Title:           "Matematika Wajib",
		AttemptID:       "att-1",
		DurationSeconds: 600,
		Questions: []model.Question{
			{ID: "q1", QuestionType: model.QuestionTypeMultipleChoice, OrderNum: 1},
			{ID: "q2", QuestionType: model.QuestionTypeShortAnswer, OrderNum: 2},
			{ID: "q3", QuestionType: model.QuestionTypeTrueFalse, OrderNum: 3},
		},
	}
}
