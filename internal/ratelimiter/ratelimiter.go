package ratelimiter

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"newsportal/internal/mail"
)

// RateLimiter paces sends to the same recipient address. Sends to different
// recipients proceed in parallel.
type RateLimiter struct {
	provider mail.Provider
	rate     time.Duration
	nextSlot map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
	log      *slog.Logger
}

func New(provider mail.Provider, rate time.Duration, log *slog.Logger) *RateLimiter {
	if rate <= 0 {
		rate = DefaultRecipientRate
	}

	return &RateLimiter{
		provider: provider,
		rate:     rate,
		nextSlot: make(map[string]time.Time),
		now:      time.Now,
		log:      log,
	}
}

func (rl *RateLimiter) Send(ctx context.Context, to, subject, htmlBody string) error {
	key := recipientKey(to)
	delay := rl.reserve(key)

	if delay > 0 {
		rl.log.DebugContext(ctx, "Rate limiting email",
			"to", key,
			"delay", delay)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return rl.provider.Send(ctx, to, subject, htmlBody)
}

// reserve books the next free slot for key and returns how long to wait for it.
func (rl *RateLimiter) reserve(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if len(rl.nextSlot) >= maxTrackedRecipients {
		rl.forgetIdleLocked(now)
	}

	slot := now
	if next, ok := rl.nextSlot[key]; ok && next.After(now) {
		slot = next
	}
	rl.nextSlot[key] = slot.Add(rl.rate)

	return getDelay(slot, now)
}

func (rl *RateLimiter) forgetIdleLocked(now time.Time) {
	for key, next := range rl.nextSlot {
		if !next.After(now) {
			delete(rl.nextSlot, key)
		}
	}
}

func getDelay(slot time.Time, now time.Time) time.Duration {
	return max(slot.Sub(now), 0)
}

func recipientKey(to string) string {
	return strings.ToLower(strings.TrimSpace(to))
}
