package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsportal/internal/domain"
	"newsportal/internal/notify"
)

const (
	JobID       = "news_sender"
	DefaultSpec = "0 8 * * mon"

	createdLayout = "02/01/2006"
)

type Store interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategoryPostsBetween(ctx context.Context, categoryID int64, from time.Time, to time.Time) ([]domain.Post, error)
	GetCategorySubscribers(ctx context.Context, categoryID int64) ([]domain.User, error)
}

type Sender interface {
	SendDigest(ctx context.Context, user domain.User, digest notify.Digest) error
	PostURL(postID int64) string
}

// Builder collects last week's posts per category and sends one digest to
// every subscriber of that category.
type Builder struct {
	store  Store
	sender Sender
	loc    *time.Location
	now    func() time.Time
	log    *slog.Logger
}

func New(store Store, sender Sender, loc *time.Location, log *slog.Logger) *Builder {
	if loc == nil {
		loc = time.UTC
	}

	return &Builder{
		store:  store,
		sender: sender,
		loc:    loc,
		now:    time.Now,
		log:    log,
	}
}

// Run is the scheduler entry point. Category or subscriber failures are
// logged and skipped; only a failure to list categories aborts the run.
func (b *Builder) Run(ctx context.Context) error {
	now := b.now().In(b.loc)
	year, week := TargetWeek(now)

	categories, err := b.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}

	sent, failed := 0, 0
	for _, category := range categories {
		s, f, catErr := b.sendCategory(ctx, category, year, week)
		sent += s
		failed += f

		if catErr != nil {
			b.log.ErrorContext(ctx, "Failed to build category digest",
				"error", catErr,
				"categoryID", category.ID,
				"week", week)
		}
	}

	b.log.InfoContext(ctx, "Weekly digests are submitted",
		"year", year,
		"week", week,
		"categories", len(categories),
		"sent", sent,
		"failed", failed)

	return nil
}

func (b *Builder) sendCategory(
	ctx context.Context,
	category domain.Category,
	year int,
	week int,
) (int, int, error) {
	var lines []string

	if from, to, ok := WeekWindow(year, week, b.loc); ok {
		posts, err := b.store.GetCategoryPostsBetween(ctx, category.ID, from, to)
		if err != nil {
			return 0, 0, fmt.Errorf("get posts: %w", err)
		}

		for _, post := range posts {
			lines = append(lines, b.FormatLine(post, category))
		}
	}

	subscribers, err := b.store.GetCategorySubscribers(ctx, category.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("get subscribers: %w", err)
	}

	digest := notify.Digest{
		CategoryName: category.Name,
		Week:         week,
		Lines:        lines,
	}

	sent, failed := 0, 0
	for _, user := range subscribers {
		if err = b.sender.SendDigest(ctx, user, digest); err != nil {
			b.log.ErrorContext(ctx, "Failed to submit weekly digest",
				"error", err,
				"categoryID", category.ID,
				"userID", user.ID)

			failed++

			continue
		}

		sent++
	}

	return sent, failed, nil
}

// FormatLine renders one digest entry with the post's creation date in the
// builder's timezone.
func (b *Builder) FormatLine(post domain.Post, category domain.Category) string {
	return fmt.Sprintf("%s, Title: %s, Category: %s, Created: %s",
		b.sender.PostURL(post.ID),
		post.Title,
		category.Name,
		post.CreatedAt.In(b.loc).Format(createdLayout))
}

// TargetWeek returns the current ISO year and the ISO week before now. In
// the first ISO week of a year the week is 0.
func TargetWeek(now time.Time) (int, int) {
	year, week := now.ISOWeek()
	return year, week - 1
}

// WeekWindow returns [Monday 00:00, next Monday 00:00) of ISO week in year,
// evaluated in loc. ok is false for weeks outside the year.
func WeekWindow(year int, week int, loc *time.Location) (time.Time, time.Time, bool) {
	if week < 1 || week > 53 {
		return time.Time{}, time.Time{}, false
	}

	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % 7
	from := jan4.AddDate(0, 0, -offset+7*(week-1))

	if y, w := from.ISOWeek(); y != year || w != week {
		return time.Time{}, time.Time{}, false
	}

	return from, from.AddDate(0, 0, 7), true
}
