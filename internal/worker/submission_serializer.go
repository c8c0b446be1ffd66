package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
)

// ErrSerializerClosed is returned to callers whose submission was dropped
// because the session went away.
var ErrSerializerClosed = errors.New("submission serializer closed")

// AnswerStore is the part of the answer store the serializer updates.
type AnswerStore interface {
	Get(questionID string) (model.Answer, bool)
	MarkSubmitted(questionID string, sentValue any, result *model.SubmitResult) error
	MarkFailed(questionID string, cause error) error
}

// SubmitFunc performs one network submission.
type SubmitFunc func(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)

// TimeSpentFunc reports the seconds a question has been worked on so far.
type TimeSpentFunc func(questionID string) int

// SerializerConfig carries the per-session settings of a SubmissionSerializer.
type SerializerConfig struct {
	ExamID    string
	AttemptID string
	// Delay is the pause between two queued submissions.
	Delay time.Duration
	// CallTimeout bounds one network call. Zero means no bound.
	CallTimeout time.Duration
	TimeSpent   TimeSpentFunc
}

type pendingSubmission struct {
	questionID   string
	value        any
	questionType model.QuestionType
	done         chan struct{}
	result       *model.SubmitResult
	err          error
}

// SubmissionSerializer keeps at most one answer submission in flight for the
// whole session. Submissions arriving while busy wait in a FIFO queue; a newer
// value for a question that is still queued replaces the queued one.
type SubmissionSerializer struct {
	mu     sync.Mutex
	busy   bool
	queue  []*pendingSubmission
	closed bool
	idle   chan struct{}
	stop   chan struct{}

	store  AnswerStore
	submit SubmitFunc
	cfg    SerializerConfig
	log    zerolog.Logger
}

// NewSubmissionSerializer creates a new SubmissionSerializer.
func NewSubmissionSerializer(store AnswerStore, submit SubmitFunc, cfg SerializerConfig, log zerolog.Logger) *SubmissionSerializer {
	idle := make(chan struct{})
	close(idle)
	if cfg.TimeSpent == nil {
		cfg.TimeSpent = func(string) int { return 0 }
	}
	return &SubmissionSerializer{
		idle:   idle,
		stop:   make(chan struct{}),
		store:  store,
		submit: submit,
		cfg:    cfg,
		log: log.With().
			Str("component", "submission_serializer").
			Str("attempt_id", cfg.AttemptID).
			Logger(),
	}
}

// Submit sends value for questionID, or queues it behind the submission in
// flight. It blocks until the entry is processed or ctx is done; a cancelled
// ctx does not withdraw the queued entry.
func (s *SubmissionSerializer) Submit(ctx context.Context, questionID string, value any, qt model.QuestionType) (*model.SubmitResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSerializerClosed
	}

	var p *pendingSubmission
	if s.busy {
		for _, queued := range s.queue {
			if queued.questionID == questionID {
				queued.value = value
				queued.questionType = qt
				p = queued
				break
			}
		}
		if p == nil {
			p = newPending(questionID, value, qt)
			s.queue = append(s.queue, p)
		}
		s.log.Debug().
			Str("question_id", questionID).
			Int("queued", len(s.queue)).
			Msg("Submission queued")
		s.mu.Unlock()
	} else {
		s.busy = true
		s.idle = make(chan struct{})
		p = newPending(questionID, value, qt)
		s.mu.Unlock()
		go s.run(p)
	}

	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newPending(questionID string, value any, qt model.QuestionType) *pendingSubmission {
	return &pendingSubmission{
		questionID:   questionID,
		value:        value,
		questionType: qt,
		done:         make(chan struct{}),
	}
}

// run processes p and then drains the queue, one entry at a time.
// busy stays set across the inter-submission delay so nothing overtakes the queue.
func (s *SubmissionSerializer) run(p *pendingSubmission) {
	for p != nil {
		s.process(p)
		p = s.next()
	}
}

func (s *SubmissionSerializer) next() *pendingSubmission {
	s.mu.Lock()
	if s.closed || len(s.queue) == 0 {
		s.finishRunLocked()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.cfg.Delay > 0 {
		timer := time.NewTimer(s.cfg.Delay)
		select {
		case <-timer.C:
		case <-s.stop:
			timer.Stop()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		s.finishRunLocked()
		return nil
	}
	p := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return p
}

func (s *SubmissionSerializer) finishRunLocked() {
	s.busy = false
	close(s.idle)
}

func (s *SubmissionSerializer) process(p *pendingSubmission) {
	qLog := s.log.With().Str("question_id", p.questionID).Logger()

	ans, ok := s.store.Get(p.questionID)
	if !ok {
		s.complete(p, nil, repository.ErrUnknownQuestion)
		return
	}

	payload, err := model.FormatAnswer(p.questionType, p.value)
	if err != nil {
		_ = s.store.MarkFailed(p.questionID, err)
		s.complete(p, nil, err)
		return
	}

	req := model.SubmitRequest{
		ExamID:           s.cfg.ExamID,
		AttemptID:        s.cfg.AttemptID,
		QuestionID:       p.questionID,
		StudentAnswerID:  ans.StudentAnswerID,
		Answer:           payload,
		TimeSpentSeconds: s.cfg.TimeSpent(p.questionID),
		IdempotencyKey:   uuid.NewString(),
	}

	ctx := context.Background()
	cancel := func() {}
	if s.cfg.CallTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
	}
	started := time.Now()
	result, err := s.submit(ctx, req)
	cancel()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		qLog.Debug().Msg("Session closed, submission result discarded")
		s.complete(p, nil, ErrSerializerClosed)
		return
	}

	if err != nil {
		_ = s.store.MarkFailed(p.questionID, err)
		qLog.Warn().Err(err).
			Dur("took", time.Since(started)).
			Msg("Submission failed")
		s.complete(p, nil, err)
		return
	}

	_ = s.store.MarkSubmitted(p.questionID, p.value, result)
	qLog.Info().
		Dur("took", time.Since(started)).
		Int("time_spent", req.TimeSpentSeconds).
		Msg("Answer submitted")
	s.complete(p, result, nil)
}

func (s *SubmissionSerializer) complete(p *pendingSubmission, result *model.SubmitResult, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// Busy reports whether a submission is in flight or queued.
func (s *SubmissionSerializer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Pending returns the number of queued (not yet sent) submissions.
func (s *SubmissionSerializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Drain waits until the serializer is idle or ctx is done.
func (s *SubmissionSerializer) Drain(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops every queued submission. A call already issued is allowed to
// finish but its result is discarded. Safe to call more than once.
func (s *SubmissionSerializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := s.queue
	s.queue = nil
	close(s.stop)
	s.mu.Unlock()

	for _, p := range dropped {
		s.complete(p, nil, ErrSerializerClosed)
	}
	if len(dropped) > 0 {
		s.log.Info().Int("dropped", len(dropped)).Msg("Pending submissions dropped")
	}
}
