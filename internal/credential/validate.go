package credential

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
)

const MinKeyLength = 30

// Prober performs a cheap authenticated provider call with a candidate key.
type Prober interface {
	ListModels(ctx context.Context, apiKey string) error
}

type Validator struct {
	prober Prober
}

func NewValidator(prober Prober) *Validator {
	return &Validator{prober: prober}
}

// Validate checks the key's shape and then probes the provider with it.
// The returned key is trimmed.
func (v *Validator) Validate(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", apperr.InvalidInput("api key is empty")
	}
	if len(key) < MinKeyLength {
		return "", apperr.InvalidInput("api key is too short (min %d characters)", MinKeyLength)
	}
	if v.prober == nil {
		return key, nil
	}

	err := v.prober.ListModels(ctx, key)
	if err == nil {
		return key, nil
	}

	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden:
			return "", apperr.InvalidInput("api key rejected by provider")
		}
	}
	return "", apperr.Provider(err, "api key probe failed")
}
