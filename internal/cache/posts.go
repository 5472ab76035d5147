package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"newsportal/internal/domain"
)

type FetchFunc func(ctx context.Context, postID int64) (*domain.Post, error)

// PostCache is a read-through cache of single posts. Backend failures
// degrade to a miss and never fail the read.
//
// A read that races a write may store the pre-write post right after the
// write's Invalidate. Nothing guards that window.
type PostCache struct {
	backend Backend
	log     *slog.Logger
}

func NewPostCache(backend Backend, log *slog.Logger) *PostCache {
	return &PostCache{
		backend: backend,
		log:     log,
	}
}

func PostKey(postID int64) string {
	return fmt.Sprintf("post-%d", postID)
}

func (c *PostCache) GetOrFetch(ctx context.Context, postID int64, fetch FetchFunc) (*domain.Post, error) {
	key := PostKey(postID)

	if post, ok := c.lookup(ctx, key); ok {
		return post, nil
	}

	post, err := fetch(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("fetch post: %w", err)
	}

	data, err := json.Marshal(post)
	if err != nil {
		c.log.WarnContext(ctx, "Failed to encode post for cache",
			"error", err,
			"key", key)

		return post, nil
	}

	if err = c.backend.Set(ctx, key, data); err != nil {
		c.log.WarnContext(ctx, "Failed to populate cache",
			"error", err,
			"key", key)
	}

	return post, nil
}

func (c *PostCache) Invalidate(ctx context.Context, postID int64) {
	key := PostKey(postID)

	if err := c.backend.Delete(ctx, key); err != nil {
		c.log.WarnContext(ctx, "Failed to invalidate cache entry",
			"error", err,
			"key", key)
	}
}

func (c *PostCache) lookup(ctx context.Context, key string) (*domain.Post, bool) {
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "Cache backend is unavailable, falling through",
			"error", err,
			"key", key)

		return nil, false
	}
	if !ok {
		return nil, false
	}

	var post domain.Post
	if err = json.Unmarshal(data, &post); err != nil {
		c.log.WarnContext(ctx, "Failed to decode cached post",
			"error", err,
			"key", key)

		return nil, false
	}

	return &post, true
}
