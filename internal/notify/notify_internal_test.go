package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"newsportal/internal/domain"
	"newsportal/internal/queue"
)

type fakeEnqueuer struct {
	kinds    []string
	payloads []domain.Notification
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, kind string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload.(domain.Notification))

	return "task-id", nil
}

type fakeSubscribers struct {
	users map[int64][]domain.User
	err   error
}

func (f *fakeSubscribers) GetCategorySubscribers(_ context.Context, categoryID int64) ([]domain.User, error) {
	return f.users[categoryID], f.err
}

type recordingProvider struct {
	to, subject, body string
	err               error
}

func (p *recordingProvider) Send(_ context.Context, to, subject, htmlBody string) error {
	p.to, p.subject, p.body = to, subject, htmlBody
	return p.err
}

func newTestDispatcher(t *testing.T, q Enqueuer) *Dispatcher {
	t.Helper()

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	return NewDispatcher(q, renderer, "http://127.0.0.1:8000/", slog.New(slog.DiscardHandler))
}

func parseHTML(t *testing.T, body string) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	return doc
}

func TestNotifyNewPost(t *testing.T) {
	q := &fakeEnqueuer{}
	d := newTestDispatcher(t, q)

	user := domain.User{ID: 1, Username: "alice", Email: "alice@example.com"}
	post := domain.Post{
		ID:    7,
		Title: "Derby day",
		Text:  strings.Repeat("x", 60),
	}

	if err := d.NotifyNewPost(context.Background(), user, post); err != nil {
		t.Fatalf("NotifyNewPost: %v", err)
	}

	if len(q.payloads) != 1 || q.kinds[0] != EmailTaskKind {
		t.Fatalf("expected one %s task, got %v", EmailTaskKind, q.kinds)
	}

	n := q.payloads[0]
	if n.Subject != "Hello, alice. A new article in your section!" {
		t.Fatalf("unexpected subject: %q", n.Subject)
	}
	if n.RecipientAddress != "alice@example.com" {
		t.Fatalf("unexpected recipient: %q", n.RecipientAddress)
	}

	doc := parseHTML(t, n.HTMLBody)

	if got := doc.Find(".greeting").Text(); !strings.Contains(got, "alice") {
		t.Fatalf("greeting does not name the user: %q", got)
	}
	if got := doc.Find(".title a").Text(); got != "Derby day" {
		t.Fatalf("unexpected title: %q", got)
	}
	if got, _ := doc.Find(".read-more").Attr("href"); got != "http://127.0.0.1:8000/posts/7" {
		t.Fatalf("unexpected post link: %q", got)
	}
	if got := doc.Find(".preview").Text(); got != strings.Repeat("x", 50) {
		t.Fatalf("expected 50 char preview, got %d chars", len(got))
	}
}

func TestNotifyNewPostEscapesContent(t *testing.T) {
	q := &fakeEnqueuer{}
	d := newTestDispatcher(t, q)

	user := domain.User{Username: "<b>bob</b>", Email: "bob@example.com"}
	post := domain.Post{ID: 1, Title: "<script>alert(1)</script>", Text: "t"}

	if err := d.NotifyNewPost(context.Background(), user, post); err != nil {
		t.Fatalf("NotifyNewPost: %v", err)
	}

	doc := parseHTML(t, q.payloads[0].HTMLBody)
	if doc.Find("script").Length() != 0 || doc.Find(".greeting b").Length() != 0 {
		t.Fatalf("user content was not escaped: %s", q.payloads[0].HTMLBody)
	}
}

func TestSendDigest(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		wantPosts int
		wantEmpty int
	}{
		{
			"With posts",
			[]string{"line one", "line two", "line three"},
			3,
			0,
		},
		{
			"Without posts",
			nil,
			0,
			1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q := &fakeEnqueuer{}
			d := newTestDispatcher(t, q)

			user := domain.User{Username: "alice", Email: "alice@example.com"}
			digest := Digest{CategoryName: "Sports", Week: 41, Lines: test.lines}

			if err := d.SendDigest(context.Background(), user, digest); err != nil {
				t.Fatalf("SendDigest: %v", err)
			}

			n := q.payloads[0]
			if n.Subject != "Hello, alice, new articles from last week in your section!" {
				t.Fatalf("unexpected subject: %q", n.Subject)
			}

			doc := parseHTML(t, n.HTMLBody)

			if got := doc.Find(".category").Text(); got != "Sports" {
				t.Fatalf("unexpected category: %q", got)
			}
			if got := doc.Find(".week").Text(); got != "41" {
				t.Fatalf("unexpected week: %q", got)
			}
			if got := doc.Find("li.post").Length(); got != test.wantPosts {
				t.Fatalf("expected %d post lines, got %d", test.wantPosts, got)
			}
			if got := doc.Find("li.empty").Length(); got != test.wantEmpty {
				t.Fatalf("expected %d empty markers, got %d", test.wantEmpty, got)
			}
		})
	}
}

func TestSubmitRejectsEmptyAddress(t *testing.T) {
	q := &fakeEnqueuer{}
	d := newTestDispatcher(t, q)

	err := d.Submit(context.Background(), domain.Notification{RecipientName: "ghost", Subject: "s"})
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}

	if len(q.payloads) != 0 {
		t.Fatalf("expected nothing enqueued")
	}
}

func TestSubmitPropagatesEnqueueError(t *testing.T) {
	d := newTestDispatcher(t, &fakeEnqueuer{err: errors.New("disk full")})

	err := d.Submit(context.Background(), domain.Notification{RecipientAddress: "a@example.com"})
	if err == nil {
		t.Fatalf("expected enqueue error")
	}
}

func TestNewPostHook(t *testing.T) {
	q := &fakeEnqueuer{}
	d := newTestDispatcher(t, q)

	subs := &fakeSubscribers{users: map[int64][]domain.User{
		1: {
			{ID: 1, Username: "alice", Email: "alice@example.com"},
			{ID: 2, Username: "nomail"},
			{ID: 3, Username: "carol", Email: "carol@example.com"},
		},
	}}

	hook := NewNewPostHook(subs, d, slog.New(slog.DiscardHandler))

	tests := []struct {
		name       string
		categoryID int64
		created    bool
		want       []string
	}{
		{
			"Created post notifies subscribers with addresses",
			1,
			true,
			[]string{"alice@example.com", "carol@example.com"},
		},
		{
			"Edited post notifies again",
			1,
			false,
			[]string{"alice@example.com", "carol@example.com"},
		},
		{
			"Category without subscribers",
			2,
			true,
			nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q.payloads = nil
			q.kinds = nil

			hook.AfterPostWrite(context.Background(), domain.Post{ID: 9, CategoryID: test.categoryID, Title: "t"}, test.created)

			if len(q.payloads) != len(test.want) {
				t.Fatalf("expected %d notifications, got %d", len(test.want), len(q.payloads))
			}

			for i, want := range test.want {
				if q.payloads[i].RecipientAddress != want {
					t.Errorf("notification %d: expected %s, got %s", i, want, q.payloads[i].RecipientAddress)
				}
			}
		})
	}
}

func TestNewPostHookSubscriberLookupFailure(t *testing.T) {
	q := &fakeEnqueuer{}
	hook := NewNewPostHook(&fakeSubscribers{err: errors.New("db down")}, newTestDispatcher(t, q), slog.New(slog.DiscardHandler))

	hook.AfterPostWrite(context.Background(), domain.Post{ID: 1, CategoryID: 1}, true)

	if len(q.payloads) != 0 {
		t.Fatalf("expected no notifications")
	}
}

func TestDeliveryHandler(t *testing.T) {
	n := domain.Notification{
		RecipientAddress: "alice@example.com",
		Subject:          "subject",
		HTMLBody:         "<p>hi</p>",
	}

	payload, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	t.Run("Sends decoded notification", func(t *testing.T) {
		p := &recordingProvider{}
		h := DeliveryHandler(p, slog.New(slog.DiscardHandler))

		if err := h(context.Background(), &domain.Task{ID: "t1", Payload: payload}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if p.to != n.RecipientAddress || p.subject != n.Subject || p.body != n.HTMLBody {
			t.Fatalf("unexpected send: %+v", p)
		}
	})

	t.Run("Provider failure is returned for retry", func(t *testing.T) {
		p := &recordingProvider{err: errors.New("smtp down")}
		h := DeliveryHandler(p, slog.New(slog.DiscardHandler))

		err := h(context.Background(), &domain.Task{ID: "t2", Payload: payload})
		if err == nil || errors.Is(err, queue.ErrPermanent) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})

	t.Run("Corrupt payload", func(t *testing.T) {
		h := DeliveryHandler(&recordingProvider{}, slog.New(slog.DiscardHandler))

		err := h(context.Background(), &domain.Task{ID: "t3", Payload: []byte("{")})
		if !errors.Is(err, queue.ErrPermanent) {
			t.Fatalf("expected permanent decode error, got %v", err)
		}
	})
}
