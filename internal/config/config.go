package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	// Seed credential. When set it is written to the credential slot at
	// startup unless the slot already holds a key.
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiAPIVersion string
	TextModel        string
	ImageModel       string
	VideoModel       string

	LogLevel string

	PreferIPv4  bool
	HTTPTimeout time.Duration
	CallTimeout time.Duration
	MaxRetries  int

	CredentialBackend string
	CredentialFile    string
	CredentialKey     string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	WebAddr        string
	RequestTimeout time.Duration
	SessionIdleTTL time.Duration

	TelegramToken  string
	TelegramChatID int64

	VideoPollInterval time.Duration
	VideoTimeout      time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		GeminiAPIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:     strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion:  strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		TextModel:         getEnv("TEXT_MODEL", "gemini-2.5-flash"),
		ImageModel:        getEnv("IMAGE_MODEL", "gemini-2.5-flash-image"),
		VideoModel:        getEnv("VIDEO_MODEL", "veo-2.0-generate-001"),
		LogLevel:          strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		PreferIPv4:        getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:       time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		CallTimeout:       time.Duration(getEnvInt("CALL_TIMEOUT_SECONDS", 180)) * time.Second,
		MaxRetries:        getEnvInt("MAX_RETRIES", 0),
		CredentialBackend: strings.ToLower(getEnv("CREDENTIAL_BACKEND", BackendFile)),
		CredentialFile:    getEnv("CREDENTIAL_FILE", defaultCredentialFile()),
		CredentialKey:     getEnv("CREDENTIAL_KEY", "gemini_api_key"),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		WebAddr:           getEnv("WEB_ADDR", ":8080"),
		RequestTimeout:    time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 240)) * time.Second,
		SessionIdleTTL:    time.Duration(getEnvInt("SESSION_IDLE_MINUTES", 120)) * time.Minute,
		TelegramToken:     strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		VideoPollInterval: time.Duration(getEnvInt("VIDEO_POLL_SECONDS", 10)) * time.Second,
		VideoTimeout:      time.Duration(getEnvInt("VIDEO_TIMEOUT_SECONDS", 600)) * time.Second,
	}

	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); raw != "" {
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = chatID
	}

	switch cfg.CredentialBackend {
	case BackendFile, BackendRedis, BackendMemory:
	default:
		return Config{}, fmt.Errorf("CREDENTIAL_BACKEND %q is not one of file, redis, memory", cfg.CredentialBackend)
	}
	if cfg.CredentialBackend == BackendFile && cfg.CredentialFile == "" {
		return Config{}, errors.New("CREDENTIAL_FILE is required for the file backend")
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		return Config{}, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.VideoPollInterval <= 0 {
		cfg.VideoPollInterval = 10 * time.Second
	}
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = 10 * time.Minute
	}

	return cfg, nil
}

func defaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "adstudio", "gemini_api_key")
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
