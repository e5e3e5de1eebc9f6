// Package generation turns storyboard operations into provider calls and
// provider answers into typed results or typed failures.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
	"adstudio/internal/media"
	"adstudio/internal/metrics"
)

// Provider is the subset of the gemini client the generation client uses.
type Provider interface {
	GenerateContent(ctx context.Context, apiKey, model string, req gemini.Request) (gemini.Response, error)
	StartVideo(ctx context.Context, apiKey, model string, req gemini.VideoRequest) (gemini.Operation, error)
	GetOperation(ctx context.Context, apiKey, name string) (gemini.Operation, error)
	Download(ctx context.Context, apiKey, uri string) ([]byte, string, error)
}

// KeySource yields the current API key. It is consulted before every call.
type KeySource interface {
	Get() (string, bool)
}

type Options struct {
	Provider Provider
	Keys     KeySource

	TextModel  string
	ImageModel string
	VideoModel string

	CallTimeout time.Duration
	// MaxRetries applies to transient provider failures only. Zero disables
	// retries.
	MaxRetries    int
	RetryInterval time.Duration

	VideoPollInterval time.Duration
	VideoTimeout      time.Duration

	Logger *slog.Logger
}

type Client struct {
	provider Provider
	keys     KeySource

	textModel  string
	imageModel string
	videoModel string

	callTimeout   time.Duration
	maxRetries    int
	retryInterval time.Duration

	videoPollInterval time.Duration
	videoTimeout      time.Duration

	logger *slog.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		provider:          opts.Provider,
		keys:              opts.Keys,
		textModel:         opts.TextModel,
		imageModel:        opts.ImageModel,
		videoModel:        opts.VideoModel,
		callTimeout:       opts.CallTimeout,
		maxRetries:        opts.MaxRetries,
		retryInterval:     opts.RetryInterval,
		videoPollInterval: opts.VideoPollInterval,
		videoTimeout:      opts.VideoTimeout,
		logger:            logger,
	}
	if c.textModel == "" {
		c.textModel = "gemini-2.5-flash"
	}
	if c.imageModel == "" {
		c.imageModel = "gemini-2.5-flash-image"
	}
	if c.videoModel == "" {
		c.videoModel = "veo-2.0-generate-001"
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 180 * time.Second
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryInterval <= 0 {
		c.retryInterval = time.Second
	}
	if c.videoPollInterval <= 0 {
		c.videoPollInterval = 10 * time.Second
	}
	if c.videoTimeout <= 0 {
		c.videoTimeout = 10 * time.Minute
	}
	return c
}

func (c *Client) apiKey() (string, error) {
	if c.keys == nil {
		return "", apperr.Precondition("api key is not set")
	}
	key, ok := c.keys.Get()
	if !ok || strings.TrimSpace(key) == "" {
		return "", apperr.Precondition("api key is not set")
	}
	return key, nil
}

// generate performs one logical provider call under the per-call timeout,
// retrying transient failures up to maxRetries times.
func (c *Client) generate(ctx context.Context, op, model string, req gemini.Request) (gemini.Response, error) {
	key, err := c.apiKey()
	if err != nil {
		return gemini.Response{}, err
	}

	var resp gemini.Response
	attempt := 0
	call := func() error {
		attempt++
		if attempt > 1 {
			metrics.ProviderRetriesTotal.WithLabelValues(op).Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		r, err := c.provider.GenerateContent(callCtx, key, model, req)
		if err != nil {
			err = classify(ctx, err)
			if apperr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	start := time.Now()
	err = backoff.RetryNotify(call, c.backOff(ctx), func(err error, wait time.Duration) {
		c.logger.Warn("provider call failed, retrying", "op", op, "attempt", attempt, "wait", wait, "err", err)
	})
	observe(op, model, start, err)
	if err != nil {
		c.logger.Error("provider call failed", "op", op, "model", model, "attempts", attempt, "err", err)
		return gemini.Response{}, classify(ctx, err)
	}

	c.logger.Debug("provider call done", "op", op, "model", model, "dur_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func observe(op, model string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	metrics.ProviderCallsTotal.WithLabelValues(op, model, outcome).Inc()
	metrics.ProviderCallDuration.WithLabelValues(op, model).Observe(time.Since(start).Seconds())
}

// classify maps a raw transport or API error onto the failure taxonomy.
// ctx is the caller's context, used to tell cancellation from a call timeout.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperr.Wrap(ctxErr, apperr.KindCanceled, "operation canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e := apperr.Provider(err, "provider call timed out")
		e.Transient = true
		return e
	}

	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		e := apperr.Provider(err, "provider returned %d", apiErr.StatusCode)
		e.Transient = apiErr.Temporary()
		return e
	}

	e := apperr.Provider(err, "provider request failed")
	e.Transient = true
	return e
}

var blockFinishReasons = map[string]bool{
	"SAFETY":             true,
	"IMAGE_SAFETY":       true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

// firstImage returns the first image of resp as a data URL, or the typed
// failure explaining why there is none.
func firstImage(resp gemini.Response, what string) (string, error) {
	if resp.BlockReason != "" {
		return "", apperr.Blocked(what+" was blocked", resp.BlockReason, ratingsDetail(resp.SafetyRatings))
	}
	if len(resp.Images) > 0 {
		img := resp.Images[0]
		return media.FormatDataURL(img.MimeType, img.Data), nil
	}
	if blockFinishReasons[resp.FinishReason] {
		return "", apperr.Blocked(what+" was blocked", resp.FinishReason, ratingsDetail(resp.SafetyRatings))
	}

	var detail []string
	if text := strings.TrimSpace(resp.Text); text != "" {
		detail = append(detail, fmt.Sprintf("response text: %q", text))
	}
	if resp.Candidates == 0 {
		detail = append(detail, "no candidates")
	}
	if resp.FinishReason != "" {
		detail = append(detail, "finish reason: "+resp.FinishReason)
	}
	return "", apperr.NoImage("no image returned for "+what, strings.Join(detail, "; "))
}

func blocked(resp gemini.Response, what string) error {
	if resp.BlockReason == "" {
		return nil
	}
	return apperr.Blocked(what+" was blocked", resp.BlockReason, ratingsDetail(resp.SafetyRatings))
}

func ratingsDetail(ratings []gemini.SafetyRating) string {
	if len(ratings) == 0 {
		return ""
	}
	raw, err := json.Marshal(ratings)
	if err != nil {
		return ""
	}
	return string(raw)
}

// textOf returns the trimmed text answer, failing on a block or an empty answer.
func textOf(resp gemini.Response, what string) (string, error) {
	if err := blocked(resp, what); err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.Text)
	if out == "" {
		return "", apperr.Provider(nil, "empty %s response", what)
	}
	return out, nil
}

func inlineImages(values []string, what string) ([]media.Inline, error) {
	out := make([]media.Inline, 0, len(values))
	for i, v := range values {
		in, err := media.ParseDataURL(v)
		if err != nil {
			return nil, apperr.InvalidInput("%s %d: %v", what, i+1, err)
		}
		out = append(out, in)
	}
	return out, nil
}

func imageParts(images []media.Inline) []gemini.Part {
	out := make([]gemini.Part, 0, len(images))
	for _, img := range images {
		out = append(out, gemini.ImagePart(img))
	}
	return out
}
