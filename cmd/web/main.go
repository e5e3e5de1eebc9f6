package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"adstudio/internal/app"
	"adstudio/internal/config"
	"adstudio/internal/httpapi"
	"adstudio/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	sessions := session.NewStore(session.Options{
		Generator:   a.Generator,
		Credentials: a.Credentials,
		Notifier:    a.Notifier,
		Logger:      logger,
		IdleTTL:     cfg.SessionIdleTTL,
	})
	go sweep(ctx, sessions, cfg.SessionIdleTTL)

	api := httpapi.New(httpapi.Options{
		Sessions:       sessions,
		Credentials:    a.Credentials,
		Validator:      a.Validator,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("web started",
		"addr", cfg.WebAddr,
		"credential_backend", cfg.CredentialBackend,
		"key_set", a.Credentials.IsSet(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

// sweep drops idle workspaces at a quarter of their TTL.
func sweep(ctx context.Context, sessions *session.Store, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sessions.Sweep(now)
		}
	}
}
