package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"newsportal/internal/domain"
	"newsportal/internal/mail"
	"newsportal/internal/queue"
)

const (
	EmailTaskKind = "send_email"

	newPostPreviewLength = 50
	newPostSubject       = "Hello, %s. A new article in your section!"
	weeklyDigestSubject  = "Hello, %s, new articles from last week in your section!"
)

var ErrNoAddress = errors.New("recipient has no email address")

// Enqueuer hands a payload to the async execution backend.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (string, error)
}

// Digest is the per-category content of one weekly digest.
type Digest struct {
	CategoryName string
	Week         int
	Lines        []string
}

type Dispatcher struct {
	queue    Enqueuer
	renderer *Renderer
	siteURL  string
	log      *slog.Logger
}

func NewDispatcher(q Enqueuer, renderer *Renderer, siteURL string, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		renderer: renderer,
		siteURL:  strings.TrimRight(siteURL, "/"),
		log:      log,
	}
}

// Submit enqueues n for delivery and returns once it is persisted.
func (d *Dispatcher) Submit(ctx context.Context, n domain.Notification) error {
	if strings.TrimSpace(n.RecipientAddress) == "" {
		return fmt.Errorf("submit to %s: %w", n.RecipientName, ErrNoAddress)
	}

	taskID, err := d.queue.Enqueue(ctx, EmailTaskKind, n)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	d.log.DebugContext(ctx, "Notification is submitted",
		"taskID", taskID,
		"to", n.RecipientAddress,
		"subject", n.Subject)

	return nil
}

func (d *Dispatcher) NotifyNewPost(ctx context.Context, user domain.User, post domain.Post) error {
	html, err := d.renderer.Render(NewPostTemplate, map[string]any{
		"user":    user,
		"title":   post.Title,
		"text":    domain.Truncate(post.Text, newPostPreviewLength),
		"post":    post,
		"postURL": d.PostURL(post.ID),
	})
	if err != nil {
		return fmt.Errorf("render new post email: %w", err)
	}

	return d.Submit(ctx, domain.Notification{
		RecipientName:    user.Username,
		RecipientAddress: user.Email,
		Subject:          fmt.Sprintf(newPostSubject, user.Username),
		HTMLBody:         html,
	})
}

func (d *Dispatcher) SendDigest(ctx context.Context, user domain.User, digest Digest) error {
	html, err := d.renderer.Render(WeeklyDigestTemplate, map[string]any{
		"user":         user,
		"text":         digest.Lines,
		"categoryName": digest.CategoryName,
		"week":         digest.Week,
	})
	if err != nil {
		return fmt.Errorf("render weekly digest email: %w", err)
	}

	return d.Submit(ctx, domain.Notification{
		RecipientName:    user.Username,
		RecipientAddress: user.Email,
		Subject:          fmt.Sprintf(weeklyDigestSubject, user.Username),
		HTMLBody:         html,
	})
}

func (d *Dispatcher) PostURL(postID int64) string {
	post := domain.Post{ID: postID}
	return d.siteURL + post.AbsoluteURL()
}

// DeliveryHandler sends queued notifications through provider. Send errors
// make the queue retry the task; an undecodable payload is dead-lettered.
func DeliveryHandler(provider mail.Provider, log *slog.Logger) queue.Handler {
	return func(ctx context.Context, task *domain.Task) error {
		var n domain.Notification
		if err := json.Unmarshal(task.Payload, &n); err != nil {
			return fmt.Errorf("decode notification: %w: %w", queue.ErrPermanent, err)
		}

		if err := provider.Send(ctx, n.RecipientAddress, n.Subject, n.HTMLBody); err != nil {
			return fmt.Errorf("send email: %w", err)
		}

		log.InfoContext(ctx, "Email is sent",
			"taskID", task.ID,
			"to", n.RecipientAddress,
			"attempt", task.Attempts)

		return nil
	}
}
