// Package app wires configuration into the long-lived collaborators shared
// by the server and the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"adstudio/internal/config"
	"adstudio/internal/credential"
	"adstudio/internal/gemini"
	"adstudio/internal/generation"
	"adstudio/internal/httpclient"
	"adstudio/internal/notify"
)

type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Credentials *credential.Store
	Validator   *credential.Validator
	Generator   *generation.Client
	Notifier    notify.Notifier

	closers []func() error
}

// NewLogger returns a JSON logger writing to w at the named level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))
}

// Build opens the credential slot, seeds it from the environment when it is
// empty, and assembles the provider stack. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{Config: cfg, Logger: logger}

	slot, err := a.openSlot(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	creds, err := credential.Open(ctx, credential.Options{Slot: slot, Logger: logger})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	if cfg.GeminiAPIKey != "" && !creds.IsSet() {
		if err := creds.Set(ctx, cfg.GeminiAPIKey); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("seed credential: %w", err)
		}
		logger.Info("credential seeded from environment", "backend", cfg.CredentialBackend)
	}
	a.Credentials = creds

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	gem := gemini.New(gemini.Options{
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	a.Generator = generation.New(generation.Options{
		Provider:          gem,
		Keys:              creds,
		TextModel:         cfg.TextModel,
		ImageModel:        cfg.ImageModel,
		VideoModel:        cfg.VideoModel,
		CallTimeout:       cfg.CallTimeout,
		MaxRetries:        cfg.MaxRetries,
		VideoPollInterval: cfg.VideoPollInterval,
		VideoTimeout:      cfg.VideoTimeout,
		Logger:            logger,
	})
	a.Validator = credential.NewValidator(gem)

	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(notify.TelegramOptions{
			Token:      cfg.TelegramToken,
			ChatID:     cfg.TelegramChatID,
			HTTPClient: httpClient,
			Logger:     logger,
			Debug:      cfg.LogLevel == "debug",
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("telegram init: %w", err)
		}
		logger.Info("telegram notifications enabled", "username", tg.Username())
		notifiers = append(notifiers, tg)
	}
	a.Notifier = notifiers

	return a, nil
}

func (a *App) openSlot(ctx context.Context) (credential.Slot, error) {
	switch a.Config.CredentialBackend {
	case config.BackendMemory:
		return credential.NewMemorySlot(), nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", a.Config.RedisAddr, err)
		}
		return credential.NewRedisSlot(rdb, a.Config.CredentialKey), nil
	default:
		return credential.NewFileSlot(a.Config.CredentialFile), nil
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
