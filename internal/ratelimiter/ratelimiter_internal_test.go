package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type countingProvider struct {
	mu   sync.Mutex
	sent []string
}

func (p *countingProvider) Send(_ context.Context, to, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, to)

	return nil
}

func TestGetDelay(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		slot     time.Time
		wantZero bool
	}{
		{
			"Slot in the past",
			now.Add(-time.Second),
			true,
		},
		{
			"Slot now",
			now,
			true,
		},
		{
			"Slot in the future",
			now.Add(500 * time.Millisecond),
			false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := getDelay(test.slot, now)

			if test.wantZero && got > 0 {
				t.Errorf("Expected zero delay, got %v", got)
			}

			if !test.wantZero && got <= 0 {
				t.Errorf("Expected positive delay, got %v", got)
			}
		})
	}
}

func TestReserve(t *testing.T) {
	rl := New(&countingProvider{}, time.Second, slog.New(slog.DiscardHandler))
	now := time.Now()
	rl.now = func() time.Time { return now }

	tests := []struct {
		name string
		key  string
		want time.Duration
	}{
		{"First send", "a@example.com", 0},
		{"Second send to same recipient", "a@example.com", time.Second},
		{"Third send to same recipient", "a@example.com", 2 * time.Second},
		{"Other recipient", "b@example.com", 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := rl.reserve(test.key); got != test.want {
				t.Errorf("Expected %v delay, got %v", test.want, got)
			}
		})
	}
}

func TestRecipientKey(t *testing.T) {
	if got := recipientKey("  Reader@Example.COM "); got != "reader@example.com" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestSendForwardsToProvider(t *testing.T) {
	p := &countingProvider{}
	rl := New(p, time.Millisecond, slog.New(slog.DiscardHandler))

	for range 2 {
		if err := rl.Send(context.Background(), "a@example.com", "s", "b"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(p.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(p.sent))
	}
}

func TestSendHonoursContext(t *testing.T) {
	p := &countingProvider{}
	rl := New(p, time.Hour, slog.New(slog.DiscardHandler))

	if err := rl.Send(context.Background(), "a@example.com", "s", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rl.Send(ctx, "a@example.com", "s", "b"); err == nil {
		t.Fatalf("expected cancelled context to abort the wait")
	}

	if len(p.sent) != 1 {
		t.Fatalf("expected only the first send to reach the provider, got %d", len(p.sent))
	}
}
