package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/clock"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/response"
	"github.com/stemsi/exstem-runner/internal/worker"
)

// StateResolver loads the attempt state of an exam.
type StateResolver interface {
	Load(ctx context.Context, examID string) (*Resolution, error)
}

// AnswerSubmitter sends one answer to the backend.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
}

// AttemptFinisher closes an attempt on the backend.
type AttemptFinisher interface {
	FinishAttempt(ctx context.Context, attemptID string) error
}

// DraftStore keeps unsent answer edits across runner restarts.
type DraftStore interface {
	Save(ctx context.Context, examID, attemptID, questionID string, value any) error
	Load(ctx context.Context, examID, attemptID string) (map[string]any, error)
	Discard(ctx context.Context, examID, questionID string) error
	Clear(ctx context.Context, examID string) error
}

type nopDraftStore struct{}

func (nopDraftStore) Save(context.Context, string, string, string, any) error { return nil }
func (nopDraftStore) Load(context.Context, string, string) (map[string]any, error) {
	return nil, nil
}
func (nopDraftStore) Discard(context.Context, string, string) error { return nil }
func (nopDraftStore) Clear(context.Context, string) error           { return nil }

// SessionDeps are the collaborators shared by every ExamSession.
type SessionDeps struct {
	Resolver  StateResolver
	Submitter AnswerSubmitter
	Finisher  AttemptFinisher
	// Drafts is optional.
	Drafts    DraftStore
	Scheduler worker.Scheduler
	Clock     clock.Clock

	SubmitDelay     time.Duration
	SubmitTimeout   time.Duration
	FinalizeTimeout time.Duration
	DraftTimeout    time.Duration

	Log zerolog.Logger
}

func (d SessionDeps) withDefaults() SessionDeps {
	if d.Drafts == nil {
		d.Drafts = nopDraftStore{}
	}
	if d.Scheduler == nil {
		d.Scheduler = worker.TickerScheduler{}
	}
	if d.Clock == nil {
		d.Clock = clock.SystemClock{}
	}
	if d.FinalizeTimeout <= 0 {
		d.FinalizeTimeout = 10 * time.Second
	}
	if d.DraftTimeout <= 0 {
		d.DraftTimeout = 2 * time.Second
	}
	return d
}

// ExamSession runs one exam attempt: loading → active → finishing → finished,
// with revision and errored exits. Timer expiry and EndExam share a single
// finalize path guarded by the active → finishing transition.
type ExamSession struct {
	examID string
	deps   SessionDeps
	log    zerolog.Logger
	timer  *worker.CountdownTimer

	mu        sync.Mutex
	mounted   bool
	status    model.SessionStatus
	exit      model.ExitReason
	lastError string
	seed      *model.SeedData
	qTypes    map[string]model.QuestionType
	index     int
	baseline  time.Time
	remaining int

	store      *repository.AnswerStore
	serializer *worker.SubmissionSerializer

	done     chan struct{}
	doneOnce sync.Once
}

// NewExamSession creates a session for examID in the loading state.
func NewExamSession(examID string, deps SessionDeps) *ExamSession {
	deps = deps.withDefaults()
	return &ExamSession{
		examID: examID,
		deps:   deps,
		log:    deps.Log.With().Str("component", "exam_session").Str("exam_id", examID).Logger(),
		timer:  worker.NewCountdownTimer(deps.Scheduler),
		status: model.SessionStatusLoading,
		done:   make(chan struct{}),
	}
}

// ExamID returns the exam this session runs.
func (s *ExamSession) ExamID() string { return s.examID }

// ─── Lifecycle ──────────────────────────────────────────────────────

// Mount loads the exam and, when seed data comes back, starts the attempt.
// A revision outcome is not an error; a load failure leaves the session errored.
func (s *ExamSession) Mount(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return "", ErrAlreadyMounted
	}
	s.mounted = true
	s.mu.Unlock()

	res, err := s.deps.Resolver.Load(ctx, s.examID)

	var drafts map[string]any
	if err == nil && res.Outcome == OutcomeSeeded {
		drafts = s.loadDrafts(ctx, res.Seed.AttemptID)
	}

	s.mu.Lock()
	if s.status != model.SessionStatusLoading {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}

	if err != nil {
		s.status = model.SessionStatusErrored
		s.exit = model.ExitErrored
		s.lastError = loadErrorMessage(err)
		s.mu.Unlock()
		s.closeDone()
		return "", err
	}

	if res.Outcome == OutcomeRevision {
		s.status = model.SessionStatusRevision
		s.exit = model.ExitRevision
		s.mu.Unlock()
		s.closeDone()
		return OutcomeRevision, nil
	}

	seed := res.Seed
	s.seed = seed
	s.qTypes = make(map[string]model.QuestionType, len(seed.Questions))
	for _, q := range seed.Questions {
		s.qTypes[q.ID] = q.QuestionType
	}

	s.store = repository.NewAnswerStore()
	s.store.Seed(seed.Questions, seed.SavedAnswers)
	restored := s.applyDraftsLocked(drafts)

	s.serializer = worker.NewSubmissionSerializer(s.store, s.deps.Submitter.SubmitAnswer, worker.SerializerConfig{
		ExamID:      s.examID,
		AttemptID:   seed.AttemptID,
		Delay:       s.deps.SubmitDelay,
		CallTimeout: s.deps.SubmitTimeout,
		TimeSpent:   s.timeSpent,
	}, s.log)

	s.index = 0
	s.baseline = s.deps.Clock.Now()
	s.remaining = seed.DurationSeconds
	s.status = model.SessionStatusActive
	s.mu.Unlock()

	s.log.Info().
		Str("attempt_id", seed.AttemptID).
		Bool("resumed", seed.Resumed).
		Int("questions", len(seed.Questions)).
		Int("duration_seconds", seed.DurationSeconds).
		Int("drafts_restored", restored).
		Msg("Exam session mounted")

	if err := s.timer.Start(seed.DurationSeconds, s.onTick, s.onExpire); err != nil {
		// Unmounted between seeding and here.
		s.log.Debug().Err(err).Msg("Countdown not started")
	}
	return OutcomeSeeded, nil
}

// Unmount leaves the session from any state. Pending submissions are
// dropped and results of calls already in flight are discarded.
func (s *ExamSession) Unmount() {
	s.mu.Lock()
	switch s.status {
	case model.SessionStatusLoading, model.SessionStatusActive:
		s.status = model.SessionStatusClosed
		s.exit = model.ExitClosed
	}
	ser := s.serializer
	s.mu.Unlock()

	s.timer.Stop()
	if ser != nil {
		ser.Close()
	}
	s.closeDone()
	s.log.Debug().Msg("Exam session unmounted")
}

// Done is closed once the session has nowhere left to go.
func (s *ExamSession) Done() <-chan struct{} { return s.done }

// Exit reports why the session ended, or ExitNone while it is still live.
func (s *ExamSession) Exit() model.ExitReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Status returns the current state.
func (s *ExamSession) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ExamSession) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// ─── Answers ────────────────────────────────────────────────────────

// UpdateAnswer records an edit without submitting it.
func (s *ExamSession) UpdateAnswer(ctx context.Context, questionID string, value any) error {
	s.mu.Lock()
	if s.status != model.SessionStatusActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	store, attemptID := s.store, s.seed.AttemptID
	s.mu.Unlock()

	if err := store.SetValue(questionID, value); err != nil {
		return err
	}
	s.saveDraft(ctx, attemptID, questionID, value)
	return nil
}

// SubmitAnswer records value and sends it through the session's serializer.
// It blocks until the backend answered or ctx is done.
func (s *ExamSession) SubmitAnswer(ctx context.Context, questionID string, value any) (*model.SubmitResult, error) {
	s.mu.Lock()
	if s.status != model.SessionStatusActive {
		s.mu.Unlock()
		return nil, ErrSessionNotActive
	}
	qt, ok := s.qTypes[questionID]
	if !ok {
		s.mu.Unlock()
		return nil, repository.ErrUnknownQuestion
	}
	store, ser, attemptID := s.store, s.serializer, s.seed.AttemptID
	s.mu.Unlock()

	if err := store.SetValue(questionID, value); err != nil {
		return nil, err
	}
	s.saveDraft(ctx, attemptID, questionID, value)

	res, err := ser.Submit(ctx, questionID, value, qt)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrSerializerClosed):
			return nil, ErrSessionClosed
		case ctx.Err() != nil:
			return nil, err
		}
		s.mu.Lock()
		s.lastError = response.GetMessage(response.ErrSubmissionFailed)
		s.mu.Unlock()
		return nil, &SubmissionError{QuestionID: questionID, Err: err}
	}

	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()

	if a, ok := store.Get(questionID); ok && !a.Pending {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.DraftTimeout)
		defer cancel()
		if err := s.deps.Drafts.Discard(dctx, s.examID, questionID); err != nil {
			s.log.Warn().Err(err).Str("question_id", questionID).Msg("Draft discard failed")
		}
	}
	return res, nil
}

// ─── Navigation ─────────────────────────────────────────────────────

// NextQuestion moves to the following question.
func (s *ExamSession) NextQuestion() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goToLocked(s.index + 1)
}

// PreviousQuestion moves to the preceding question.
func (s *ExamSession) PreviousQuestion() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goToLocked(s.index - 1)
}

// GoToQuestion jumps to the zero-based index.
func (s *ExamSession) GoToQuestion(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goToLocked(index)
}

func (s *ExamSession) goToLocked(index int) error {
	if s.status != model.SessionStatusActive {
		return ErrSessionNotActive
	}
	if index < 0 || index >= len(s.seed.Questions) {
		return ErrQuestionIndexOutOfRange
	}
	if index == s.index {
		return nil
	}

	now := s.deps.Clock.Now()
	s.store.AddTimeSpent(s.seed.Questions[s.index].ID, int(now.Sub(s.baseline)/time.Second))
	s.index = index
	s.baseline = now
	return nil
}

// timeSpent is the accumulated time on questionID plus, when it is the
// current question, the time since it became current.
func (s *ExamSession) timeSpent(questionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return 0
	}
	a, _ := s.store.Get(questionID)
	spent := a.TimeSpentSeconds
	if s.status == model.SessionStatusActive && s.seed.Questions[s.index].ID == questionID {
		spent += int(s.deps.Clock.Now().Sub(s.baseline) / time.Second)
	}
	return spent
}

// ─── Finalize ───────────────────────────────────────────────────────

// EndExam finishes the attempt on the student's request. Calling it while the
// session is already finishing or finished is a no-op.
func (s *ExamSession) EndExam(ctx context.Context) error {
	if s.finalize(ctx, "ended") {
		return nil
	}
	switch s.Status() {
	case model.SessionStatusFinishing, model.SessionStatusFinished:
		return nil
	default:
		return ErrSessionNotActive
	}
}

func (s *ExamSession) onTick(remaining int) {
	s.mu.Lock()
	s.remaining = remaining
	s.mu.Unlock()
}

func (s *ExamSession) onExpire() {
	s.finalize(context.Background(), "expired")
}

// finalize runs at most once per session; it reports whether this call did.
// A failed FinishAttempt is logged and the session still ends finished.
func (s *ExamSession) finalize(ctx context.Context, reason string) bool {
	s.mu.Lock()
	if s.status != model.SessionStatusActive {
		s.mu.Unlock()
		return false
	}
	s.status = model.SessionStatusFinishing
	// Bank the current question's time; timeSpent ignores the baseline
	// once the session has left active.
	now := s.deps.Clock.Now()
	s.store.AddTimeSpent(s.seed.Questions[s.index].ID, int(now.Sub(s.baseline)/time.Second))
	s.baseline = now
	ser, attemptID := s.serializer, s.seed.AttemptID
	s.mu.Unlock()

	log := s.log.With().Str("attempt_id", attemptID).Str("reason", reason).Logger()
	log.Info().Msg("Finalizing exam")

	s.timer.Stop()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.FinalizeTimeout)
	defer cancel()

	if err := ser.Drain(fctx); err != nil {
		log.Warn().Err(err).Int("pending", ser.Pending()).Msg("Pending submissions not drained")
	}
	ser.Close()

	if err := s.deps.Finisher.FinishAttempt(fctx, attemptID); err != nil {
		log.Warn().Err(err).Msg("FinalizeFailure: attempt not closed on backend")
	}
	if err := s.deps.Drafts.Clear(fctx, s.examID); err != nil {
		log.Warn().Err(err).Msg("Draft cleanup failed")
	}

	s.mu.Lock()
	s.status = model.SessionStatusFinished
	if s.exit == model.ExitNone {
		s.exit = model.ExitFinished
	}
	s.mu.Unlock()
	s.closeDone()

	log.Info().Msg("Exam finished")
	return true
}

// ─── View ───────────────────────────────────────────────────────────

// View returns the read-only projection for the UI.
func (s *ExamSession) View() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := model.SessionView{
		ExamID:                 s.examID,
		Status:                 s.status,
		Exit:                   s.exit,
		CurrentIndex:           s.index,
		RemainingSeconds:       s.remaining,
		FormattedRemainingTime: model.FormatRemaining(s.remaining),
		Loading:                s.status == model.SessionStatusLoading,
		Error:                  s.lastError,
	}
	if s.seed == nil || s.store == nil {
		return v
	}

	v.AttemptID = s.seed.AttemptID
	v.Title = s.seed.Title
	q := s.seed.Questions[s.index]
	v.CurrentQuestion = &q
	if a, ok := s.store.Get(q.ID); ok {
		v.CurrentAnswer = &a
	}
	v.Progress = model.Progress{
		Current:       s.index + 1,
		Total:         len(s.seed.Questions),
		AnsweredCount: s.store.AnsweredCount(),
	}
	v.Submitting = s.serializer.Busy()
	return v
}

// Answers returns every answer in question order. Nil before seeding.
func (s *ExamSession) Answers() []model.Answer {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Snapshot()
}

// ─── Drafts ─────────────────────────────────────────────────────────

func (s *ExamSession) loadDrafts(ctx context.Context, attemptID string) map[string]any {
	dctx, cancel := context.WithTimeout(ctx, s.deps.DraftTimeout)
	defer cancel()

	drafts, err := s.deps.Drafts.Load(dctx, s.examID, attemptID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Draft load failed, continuing with server state")
		return nil
	}
	return drafts
}

// applyDraftsLocked restores unsent edits on top of the server state.
// They come back pending: edited but not confirmed.
func (s *ExamSession) applyDraftsLocked(drafts map[string]any) int {
	restored := 0
	for qID, v := range drafts {
		a, ok := s.store.Get(qID)
		if !ok || reflect.DeepEqual(a.Value, v) {
			continue
		}
		if err := s.store.SetValue(qID, v); err == nil {
			restored++
		}
	}
	return restored
}

func (s *ExamSession) saveDraft(ctx context.Context, attemptID, questionID string, value any) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.DraftTimeout)
	defer cancel()
	if err := s.deps.Drafts.Save(dctx, s.examID, attemptID, questionID, value); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID).Msg("Draft save failed")
	}
}

func loadErrorMessage(err error) string {
	var le *LoadError
	if errors.As(err, &le) && le.Message != "" {
		return le.Message
	}
	return response.GetMessage(response.ErrLoadFailed)
}
