package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailProvider sends through the Gmail API as the authenticated account.
type GmailProvider struct {
	service *gmail.Service
	log     *slog.Logger
}

// NewGmailService builds a Gmail client from service-account JSON, or from
// application default credentials when credentialsJSON is empty.
func NewGmailService(ctx context.Context, credentialsJSON string) (*gmail.Service, error) {
	if strings.TrimSpace(credentialsJSON) == "" {
		return gmail.NewService(ctx)
	}

	return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
}

func NewGmailProvider(service *gmail.Service, log *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		log:     log,
	}
}

func (g *GmailProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	raw := buildMIME(sanitizeHeader(to), sanitizeHeader(subject), htmlBody)

	return withRetry(ctx, g.log, "gmail", to, func() error {
		start := time.Now()

		_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}

		g.log.InfoContext(ctx, "Gmail API request is completed",
			"to", to,
			"durationMs", time.Since(start).Milliseconds())

		return nil
	})
}

func buildMIME(to, subject, htmlBody string) string {
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.WriteString(htmlBody)

	return base64.URLEncoding.EncodeToString([]byte(msg.String()))
}
