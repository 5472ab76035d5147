package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	brevoEndpoint      = "https://api.brevo.com/v3/smtp/email"
	brevoClientTimeout = 30 * time.Second
)

// BrevoProvider sends through the Brevo transactional email API.
type BrevoProvider struct {
	apiKey   string
	fromAddr string
	fromName string
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

func NewBrevoProvider(apiKey, fromAddr, fromName string, log *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		endpoint: brevoEndpoint,
		client:   &http.Client{Timeout: brevoClientTimeout},
		log:      log,
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
	Text    string         `json:"textContent,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (b *BrevoProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	body, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: to}},
		Subject: sanitizeHeader(subject),
		HTML:    htmlBody,
		Text:    plainText(htmlBody),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return withRetry(ctx, b.log, "brevo", to, func() error {
		start := time.Now()

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("create request: %w", reqErr)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", b.apiKey)

		resp, doErr := b.client.Do(req)
		if doErr != nil {
			return fmt.Errorf("do request: %w", doErr)
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				b.log.WarnContext(ctx, "Failed to close response body",
					"error", closeErr)
			}
		}()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			statusErr := fmt.Errorf("unexpected status (code = %d)", resp.StatusCode)
			if isPermanentStatus(resp.StatusCode) {
				return retry.Unrecoverable(statusErr)
			}

			return statusErr
		}

		b.log.InfoContext(ctx, "Brevo API request is completed",
			"to", to,
			"durationMs", time.Since(start).Milliseconds())

		return nil
	})
}

// Client errors other than rate limiting will not succeed on retry.
func isPermanentStatus(code int) bool {
	return code >= http.StatusBadRequest &&
		code < http.StatusInternalServerError &&
		code != http.StatusTooManyRequests
}
