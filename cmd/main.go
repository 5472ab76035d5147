package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"newsportal/internal/app"
	"newsportal/internal/config"
	"newsportal/internal/mail"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	provider, err := initMailProvider(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize mail provider",
			"error", err,
			"provider", cfg.MailProvider)

		return
	}

	a, err := app.New(ctx, cfg, provider, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize app",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = a.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "App is initialized",
		"dbPath", cfg.DBPath,
		"timezone", cfg.TimeZone,
		"provider", cfg.MailProvider,
		"workers", cfg.Workers)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		sig := <-c
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
		cancel()
	}()

	if err = a.Run(ctx); err != nil {
		log.ErrorContext(ctx, "App stopped with error",
			"error", err)
	}

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())
}

func initMailProvider(ctx context.Context, cfg config.Config, log *slog.Logger) (mail.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.MailProvider)) {
	case "brevo":
		if strings.TrimSpace(cfg.BrevoAPIKey) == "" {
			log.WarnContext(ctx, "BREVO_API_KEY is missing so mock provider will be used",
				"envVar", "BREVO_API_KEY")

			return mail.NewMockProvider(log), nil
		}

		return mail.NewBrevoProvider(cfg.BrevoAPIKey, cfg.MailFromAddr, cfg.MailFromName, log), nil
	case "gmail":
		service, err := mail.NewGmailService(ctx, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, err
		}

		return mail.NewGmailProvider(service, log), nil
	default:
		log.InfoContext(ctx, "Mock mail provider is used",
			"provider", cfg.MailProvider)

		return mail.NewMockProvider(log), nil
	}
}
