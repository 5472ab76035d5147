// Package mail delivers rendered HTML messages through pluggable providers.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

const (
	sendAttempts  = 3
	sendDelay     = time.Second
	sendMaxDelay  = 30 * time.Second
	sendMaxJitter = 5 * time.Second
)

// Provider sends a single message.
type Provider interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// MockProvider logs messages instead of sending them.
type MockProvider struct {
	log *slog.Logger
}

func NewMockProvider(log *slog.Logger) *MockProvider {
	return &MockProvider{log: log}
}

func (m *MockProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.log.InfoContext(ctx, "MOCK EMAIL",
		"to", to,
		"subject", subject,
		"bodyLength", len(htmlBody))

	return nil
}

// sanitizeHeader drops CR, LF and other control characters so a header
// value cannot inject further headers.
func sanitizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// plainText flattens an HTML body into whitespace-normalized text. It returns
// "" when the body cannot be parsed.
func plainText(htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return ""
	}

	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}

func withRetry(ctx context.Context, log *slog.Logger, provider string, to string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Attempts(sendAttempts),
		retry.Delay(sendDelay),
		retry.MaxDelay(sendMaxDelay),
		retry.MaxJitter(sendMaxJitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.InfoContext(ctx, "Retrying email send after error",
				"provider", provider,
				"attempt", n,
				"to", to,
				"error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("send via %s: %w", provider, err)
	}

	return nil
}
