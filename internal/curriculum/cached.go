package curriculum

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-tutor/internal/platform/cache"
)

// CachedRepository is a read-through Redis cache in front of another
// repository. Only successful results are cached; cache errors fall back to
// the inner repository.
type CachedRepository struct {
	inner Repository
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachedRepository wraps inner with a cache whose entries expire after ttl.
func NewCachedRepository(inner Repository, c *cache.Cache, ttl time.Duration) *CachedRepository {
	return &CachedRepository{inner: inner, cache: c, ttl: ttl}
}

func (r *CachedRepository) ListCurriculums(ctx context.Context) ([]Curriculum, error) {
	return readThrough(ctx, r, "curriculum:curriculums", func() ([]Curriculum, error) {
		return r.inner.ListCurriculums(ctx)
	})
}

func (r *CachedRepository) ListUnits(ctx context.Context, curriculumID string) ([]Unit, error) {
	return readThrough(ctx, r, "curriculum:units:"+curriculumID, func() ([]Unit, error) {
		return r.inner.ListUnits(ctx, curriculumID)
	})
}

func (r *CachedRepository) ListTopics(ctx context.Context, unitID string) ([]Topic, error) {
	return readThrough(ctx, r, "curriculum:topics:"+unitID, func() ([]Topic, error) {
		return r.inner.ListTopics(ctx, unitID)
	})
}

func (r *CachedRepository) ListSubTopics(ctx context.Context, topicID string) ([]SubTopic, error) {
	return readThrough(ctx, r, "curriculum:sub_topics:"+topicID, func() ([]SubTopic, error) {
		return r.inner.ListSubTopics(ctx, topicID)
	})
}

func readThrough[T any](ctx context.Context, r *CachedRepository, key string, load func() ([]T, error)) ([]T, error) {
	var cached []T
	err := r.cache.GetJSON(ctx, key, &cached)
	switch {
	case err == nil && cached != nil:
		return cached, nil
	case err != nil && !errors.Is(err, cache.ErrMiss):
		slog.Warn("curriculum cache read failed, bypassing", "key", key, "error", err)
	}

	out, err := load()
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetJSON(ctx, key, out, r.ttl); err != nil {
		slog.Warn("curriculum cache write failed", "key", key, "error", err)
	}
	return out, nil
}
