package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-runner/internal/config"
)

// DraftRepository keeps answer edits that have not been confirmed by the
// backend yet, so a runner restart does not lose them. One Redis hash per
// exam (question_id -> JSON value), tagged with the attempt it belongs to.
type DraftRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDraftRepository creates a new DraftRepository.
func NewDraftRepository(rdb *redis.Client, ttl time.Duration) *DraftRepository {
	return &DraftRepository{rdb: rdb, ttl: ttl}
}

// Save stores the latest unsent value for a question.
func (r *DraftRepository) Save(ctx context.Context, examID, attemptID, questionID string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	draftsKey := config.CacheKey.DraftAnswersKey(examID)
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, draftsKey, questionID, raw)
	pipe.Set(ctx, config.CacheKey.DraftAttemptKey(examID), attemptID, r.ttl)
	if r.ttl > 0 {
		pipe.Expire(ctx, draftsKey, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load returns the drafts recorded for attemptID. Drafts left over from a
// different attempt are stale and get removed.
func (r *DraftRepository) Load(ctx context.Context, examID, attemptID string) (map[string]any, error) {
	owner, err := r.rdb.Get(ctx, config.CacheKey.DraftAttemptKey(examID)).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draft owner: %w", err)
	}
	if owner != attemptID {
		if err := r.Clear(ctx, examID); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	}

	fields, err := r.rdb.HGetAll(ctx, config.CacheKey.DraftAnswersKey(examID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get drafts: %w", err)
	}

	drafts := make(map[string]any, len(fields))
	for qID, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue // Corrupt entry, the server copy wins.
		}
		drafts[qID] = v
	}
	return drafts, nil
}

// Discard drops the draft of a single question once it has been confirmed.
func (r *DraftRepository) Discard(ctx context.Context, examID, questionID string) error {
	return r.rdb.HDel(ctx, config.CacheKey.DraftAnswersKey(examID), questionID).Err()
}

// Clear removes every draft of the exam.
func (r *DraftRepository) Clear(ctx context.Context, examID string) error {
	return r.rdb.Del(ctx,
		config.CacheKey.DraftAnswersKey(examID),
		config.CacheKey.DraftAttemptKey(examID),
	).Err()
}
