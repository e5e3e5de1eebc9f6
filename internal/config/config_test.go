package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CREDENTIAL_FILE", "/tmp/adstudio-test/key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.GeminiBaseURL)
	assert.Equal(t, "v1beta", cfg.GeminiAPIVersion)
	assert.Equal(t, BackendFile, cfg.CredentialBackend)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 180*time.Second, cfg.CallTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 240*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Hour, cfg.SessionIdleTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CREDENTIAL_BACKEND", "Redis")
	t.Setenv("MAX_RETRIES", "-3")
	t.Setenv("CALL_TIMEOUT_SECONDS", "0")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.CredentialBackend)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 180*time.Second, cfg.CallTimeout)
	assert.Equal(t, int64(-1001), cfg.TelegramChatID)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"CREDENTIAL_BACKEND": "sqlite"}},
		{"bad chat id", map[string]string{"TELEGRAM_CHAT_ID": "abc"}},
		{"token without chat", map[string]string{"TELEGRAM_BOT_TOKEN": "token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
