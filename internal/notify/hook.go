package notify

import (
	"context"
	"log/slog"

	"newsportal/internal/domain"
)

type SubscriberStore interface {
	GetCategorySubscribers(ctx context.Context, categoryID int64) ([]domain.User, error)
}

// NewPostHook notifies the subscribers of a post's category on every save,
// new or edited alike.
type NewPostHook struct {
	subscribers SubscriberStore
	dispatcher  *Dispatcher
	log         *slog.Logger
}

func NewNewPostHook(subscribers SubscriberStore, dispatcher *Dispatcher, log *slog.Logger) *NewPostHook {
	return &NewPostHook{
		subscribers: subscribers,
		dispatcher:  dispatcher,
		log:         log,
	}
}

func (h *NewPostHook) AfterPostWrite(ctx context.Context, post domain.Post, created bool) {
	users, err := h.subscribers.GetCategorySubscribers(ctx, post.CategoryID)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to get category subscribers",
			"error", err,
			"postID", post.ID,
			"categoryID", post.CategoryID)

		return
	}

	submitted := 0
	for _, user := range users {
		if err = h.dispatcher.NotifyNewPost(ctx, user, post); err != nil {
			h.log.ErrorContext(ctx, "Failed to submit new post notification",
				"error", err,
				"postID", post.ID,
				"userID", user.ID)

			continue
		}

		submitted++
	}

	h.log.InfoContext(ctx, "New post notifications are submitted",
		"postID", post.ID,
		"categoryID", post.CategoryID,
		"created", created,
		"subscribers", len(users),
		"submitted", submitted)
}
