package repository

import (
	"context"
	"encoding/json"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const submissionKeyPrefix = "judge:submission:"

// Store is the persistence the cache sits in front of.
type Store interface {
	Create(ctx context.Context, sub *model.Submission) error
	Get(ctx context.Context, id string) (model.Submission, error)
	ListByUser(ctx context.Context, userID, problemID string) ([]model.Submission, error)
}

// CachedSubmissionStore writes submissions through to redis so single lookups skip the database.
type CachedSubmissionStore struct {
	Store
	cache cache.Cache
	TTL   time.Duration
}

// NewCachedSubmissionStore creates a new store.
func NewCachedSubmissionStore(base Store, cacheClient cache.Cache, ttl time.Duration) *CachedSubmissionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedSubmissionStore{Store: base, cache: cacheClient, TTL: ttl}
}

// Create persists sub, then caches it.
func (s *CachedSubmissionStore) Create(ctx context.Context, sub *model.Submission) error {
	if err := s.Store.Create(ctx, sub); err != nil {
		return err
	}
	s.save(ctx, *sub)
	return nil
}

// Get returns a submission by id.
func (s *CachedSubmissionStore) Get(ctx context.Context, id string) (model.Submission, error) {
	if id == "" {
		return model.Submission{}, appErr.ValidationError("submission_id", "required")
	}
	if val, err := s.cache.Get(ctx, submissionKeyPrefix+id); err == nil && val != "" {
		var sub model.Submission
		if err := json.Unmarshal([]byte(val), &sub); err == nil {
			return sub, nil
		}
		logger.Warn(ctx, "decode cached submission failed", zap.String("submission_id", id))
	}
	sub, err := s.Store.Get(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	s.save(ctx, sub)
	return sub, nil
}

func (s *CachedSubmissionStore) save(ctx context.Context, sub model.Submission) {
	data, err := json.Marshal(sub)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, submissionKeyPrefix+sub.ID, string(data), cache.JitterTTL(s.TTL)); err != nil {
		logger.Warn(ctx, "cache submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}
