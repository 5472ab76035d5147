package content

import (
	"context"
	"fmt"
	"log/slog"

	"newsportal/internal/cache"
	"newsportal/internal/domain"
)

// Store is the persistence the content write path needs.
type Store interface {
	InsertPost(ctx context.Context, post *domain.Post) (int64, error)
	UpdatePost(ctx context.Context, post *domain.Post) error
	AdjustPostRating(ctx context.Context, postID int64, delta int64) error
	DeletePost(ctx context.Context, postID int64) error
	GetPost(ctx context.Context, postID int64) (*domain.Post, error)

	InsertComment(ctx context.Context, comment *domain.Comment) (int64, error)
	AdjustCommentRating(ctx context.Context, commentID int64, delta int64) error

	CreateAuthor(ctx context.Context, userID int64) (int64, error)
	DeleteAuthor(ctx context.Context, userID int64) error
	UpdateAuthorRating(ctx context.Context, authorID int64) (int64, error)

	AddSubscription(ctx context.Context, categoryID int64, userID int64) (int64, error)
	RemoveSubscription(ctx context.Context, categoryID int64, userID int64) error
	IsSubscribed(ctx context.Context, categoryID int64, userID int64) (bool, error)
}

// WriteHook runs synchronously after every successful post save, in
// registration order. Implementations must not block on delivery.
type WriteHook interface {
	AfterPostWrite(ctx context.Context, post domain.Post, created bool)
}

type Service struct {
	store Store
	cache *cache.PostCache
	hooks []WriteHook
	log   *slog.Logger
}

func New(store Store, postCache *cache.PostCache, log *slog.Logger, hooks ...WriteHook) *Service {
	return &Service{
		store: store,
		cache: postCache,
		hooks: hooks,
		log:   log,
	}
}

// GetPost reads through the post cache.
func (s *Service) GetPost(ctx context.Context, postID int64) (*domain.Post, error) {
	return s.cache.GetOrFetch(ctx, postID, s.store.GetPost)
}

func (s *Service) CreatePost(ctx context.Context, post *domain.Post) error {
	if _, err := s.store.InsertPost(ctx, post); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}

	return s.afterSave(ctx, post.ID, true)
}

func (s *Service) UpdatePost(ctx context.Context, post *domain.Post) error {
	if err := s.store.UpdatePost(ctx, post); err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	return s.afterSave(ctx, post.ID, false)
}

func (s *Service) LikePost(ctx context.Context, postID int64) error {
	return s.adjustPostRating(ctx, postID, 1)
}

func (s *Service) DislikePost(ctx context.Context, postID int64) error {
	return s.adjustPostRating(ctx, postID, -1)
}

// DeletePost is not a save, so hooks do not run.
func (s *Service) DeletePost(ctx context.Context, postID int64) error {
	if err := s.store.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	s.cache.Invalidate(ctx, postID)

	return nil
}

func (s *Service) AddComment(ctx context.Context, comment *domain.Comment) error {
	if _, err := s.store.InsertComment(ctx, comment); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}

	return nil
}

func (s *Service) LikeComment(ctx context.Context, commentID int64) error {
	return s.store.AdjustCommentRating(ctx, commentID, 1)
}

func (s *Service) DislikeComment(ctx context.Context, commentID int64) error {
	return s.store.AdjustCommentRating(ctx, commentID, -1)
}

// UpdateAuthorRating recomputes the rating from current post and comment
// ratings. It is never maintained incrementally and goes stale between calls.
func (s *Service) UpdateAuthorRating(ctx context.Context, authorID int64) (int64, error) {
	rating, err := s.store.UpdateAuthorRating(ctx, authorID)
	if err != nil {
		return 0, fmt.Errorf("update author rating: %w", err)
	}

	s.log.InfoContext(ctx, "Author rating is recomputed",
		"authorID", authorID,
		"rating", rating)

	return rating, nil
}

func (s *Service) BecomeAuthor(ctx context.Context, userID int64) (int64, error) {
	return s.store.CreateAuthor(ctx, userID)
}

func (s *Service) StopBeingAuthor(ctx context.Context, userID int64) error {
	return s.store.DeleteAuthor(ctx, userID)
}

func (s *Service) Subscribe(ctx context.Context, categoryID int64, userID int64) error {
	if _, err := s.store.AddSubscription(ctx, categoryID, userID); err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}

	s.log.InfoContext(ctx, "User is subscribed",
		"categoryID", categoryID,
		"userID", userID)

	return nil
}

func (s *Service) Unsubscribe(ctx context.Context, categoryID int64, userID int64) error {
	if err := s.store.RemoveSubscription(ctx, categoryID, userID); err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}

	s.log.InfoContext(ctx, "User is unsubscribed",
		"categoryID", categoryID,
		"userID", userID)

	return nil
}

func (s *Service) IsSubscribed(ctx context.Context, categoryID int64, userID int64) (bool, error) {
	return s.store.IsSubscribed(ctx, categoryID, userID)
}

func (s *Service) adjustPostRating(ctx context.Context, postID int64, delta int64) error {
	if err := s.store.AdjustPostRating(ctx, postID, delta); err != nil {
		return fmt.Errorf("adjust post rating: %w", err)
	}

	return s.afterSave(ctx, postID, false)
}

// afterSave drops the cache entry before returning and then runs hooks on the
// stored post. Hook outcomes never undo the write.
func (s *Service) afterSave(ctx context.Context, postID int64, created bool) error {
	s.cache.Invalidate(ctx, postID)

	if len(s.hooks) == 0 {
		return nil
	}

	saved, err := s.store.GetPost(ctx, postID)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to load saved post for hooks",
			"error", err,
			"postID", postID)

		return nil
	}

	for _, hook := range s.hooks {
		hook.AfterPostWrite(ctx, *saved, created)
	}

	return nil
}
