package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/backend"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/response"
)

// ExamLoader fetches the student's attempt state from the backend.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (*model.ExamState, error)
}

// AuthChecker reports whether a usable student token is present.
type AuthChecker interface {
	IsAuthenticated() bool
}

// Outcome is how a load ended.
type Outcome string

const (
	OutcomeSeeded   Outcome = "seeded"
	OutcomeRevision Outcome = "revision"
)

// Resolution is the result of a successful load. Seed is nil for OutcomeRevision.
type Resolution struct {
	Outcome Outcome
	Seed    *model.SeedData
}

// ExamStateResolver turns "open this exam" into either seed data or a
// revision exit. Starting, resuming and retaking all go through one fetch;
// the backend decides which attempt is active.
type ExamStateResolver struct {
	loader ExamLoader
	auth   AuthChecker
	log    zerolog.Logger
}

// NewExamStateResolver creates a new ExamStateResolver.
func NewExamStateResolver(loader ExamLoader, auth AuthChecker, log zerolog.Logger) *ExamStateResolver {
	return &ExamStateResolver{
		loader: loader,
		auth:   auth,
		log:    log.With().Str("component", "exam_state_resolver").Logger(),
	}
}

// Load resolves the attempt state of examID.
func (r *ExamStateResolver) Load(ctx context.Context, examID string) (*Resolution, error) {
	if !r.auth.IsAuthenticated() {
		return nil, newLoadError(response.ErrTokenRequired, nil)
	}

	state, err := r.loader.LoadExam(ctx, examID)
	if err != nil {
		loadErr := classifyLoadError(err)
		r.log.Warn().Err(err).
			Str("exam_id", examID).
			Str("code", string(loadErr.Code)).
			Msg("Exam load failed")
		return nil, loadErr
	}

	if state.Status == model.LoadStatusRevisionRequired {
		r.log.Info().Str("exam_id", examID).Msg("Exam requires revision")
		return &Resolution{Outcome: OutcomeRevision}, nil
	}

	seed, err := validateSeed(state.Seed)
	if err != nil {
		r.log.Warn().Err(err).Str("exam_id", examID).Msg("Exam payload rejected")
		return nil, err
	}
	return &Resolution{Outcome: OutcomeSeeded, Seed: seed}, nil
}

func classifyLoadError(err error) *LoadError {
	if apiErr, ok := backend.AsAPIError(err); ok {
		code := apiErr.Code
		switch {
		case apiErr.Unauthorized():
			code = response.ErrTokenInvalid
		case code == "":
			code = response.ErrLoadFailed
		}
		le := newLoadError(code, err)
		if apiErr.Code != "" && apiErr.Message != "" {
			le.Message = apiErr.Message
		}
		return le
	}

	switch {
	case errors.Is(err, backend.ErrNotAuthenticated):
		return newLoadError(response.ErrTokenRequired, err)
	case errors.Is(err, backend.ErrTokenExpired):
		return newLoadError(response.ErrTokenExpired, err)
	case errors.Is(err, backend.ErrTokenMalformed):
		return newLoadError(response.ErrTokenInvalid, err)
	case errors.Is(err, backend.ErrUnexpectedShape):
		return newLoadError(response.ErrInvalidExamResponse, err)
	default:
		return newLoadError(response.ErrBackendUnavailable, err)
	}
}

// validateSeed rejects payloads the session cannot run. The returned seed is
// a copy; the duration is clamped at zero.
func validateSeed(in *model.SeedData) (*model.SeedData, error) {
	if in == nil {
		return nil, newLoadError(response.ErrInvalidExamResponse, errors.New("missing seed data"))
	}
	if len(in.Questions) == 0 {
		return nil, newLoadError(response.ErrNoQuestions, errors.New("exam has no questions"))
	}
	if in.AttemptID == "" {
		return nil, newLoadError(response.ErrInvalidExamResponse, errors.New("missing attempt id"))
	}

	seen := make(map[string]struct{}, len(in.Questions))
	for _, q := range in.Questions {
		if q.ID == "" {
			return nil, newLoadError(response.ErrInvalidExamResponse, errors.New("question without id"))
		}
		if _, dup := seen[q.ID]; dup {
			return nil, newLoadError(response.ErrInvalidExamResponse, fmt.Errorf("duplicate question id %q", q.ID))
		}
		seen[q.ID] = struct{}{}
	}

	seed := *in
	if seed.DurationSeconds < 0 {
		seed.DurationSeconds = 0
	}
	return &seed, nil
}
