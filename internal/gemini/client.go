package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"adstudio/internal/media"
)

type Options struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the generativelanguage REST API. It holds no credential:
// the key is passed on every call so a cleared key takes effect immediately.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) GenerateContent(ctx context.Context, apiKey, model string, req Request) (Response, error) {
	payload := buildRequest(req)

	resp, err := c.generateContent(ctx, apiKey, model, payload)
	if err != nil && payload.GenerationConfig != nil && payload.GenerationConfig.ImageConfig != nil {
		if isUnknownFieldError(err, "imageConfig") {
			c.logger.Warn("model rejected imageConfig, retrying without aspect ratio", "model", model)
			payload.GenerationConfig.ImageConfig = nil
			return c.generateContent(ctx, apiKey, model, payload)
		}
	}
	return resp, err
}

// ListModels performs a cheap authenticated call, used to probe a key.
func (c *Client) ListModels(ctx context.Context, apiKey string) error {
	url := fmt.Sprintf("%s/%s/models?pageSize=1", c.baseURL, c.apiVersion)
	_, err := c.do(ctx, apiKey, http.MethodGet, url, nil)
	return err
}

func (c *Client) StartVideo(ctx context.Context, apiKey, model string, req VideoRequest) (Operation, error) {
	payload := predictRequest{
		Instances:  []videoInstance{{Prompt: req.Prompt}},
		Parameters: &videoParameters{AspectRatio: req.AspectRatio, SampleCount: 1},
	}
	if req.Image != nil {
		payload.Instances[0].Image = &videoImage{
			BytesBase64Encoded: req.Image.Data,
			MimeType:           req.Image.MimeType,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:predictLongRunning", c.baseURL, c.apiVersion, model)
	raw, err := c.do(ctx, apiKey, http.MethodPost, url, body)
	if err != nil {
		return Operation{}, err
	}
	return decodeOperation(raw)
}

func (c *Client) GetOperation(ctx context.Context, apiKey, name string) (Operation, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, strings.TrimLeft(name, "/"))
	raw, err := c.do(ctx, apiKey, http.MethodGet, url, nil)
	if err != nil {
		return Operation{}, err
	}
	return decodeOperation(raw)
}

// Download fetches a generated file URI. The URI requires the API key.
func (c *Client) Download(ctx context.Context, apiKey, uri string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, "", &APIError{StatusCode: httpResp.StatusCode, Status: httpResp.Status, Body: strings.TrimSpace(string(data))}
	}
	return data, media.DetectMime(httpResp.Header.Get("content-type"), data), nil
}

func buildRequest(req Request) generateContentRequest {
	parts := make([]part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.Image != nil {
			parts = append(parts, part{InlineData: &blob{
				Data:     p.Image.Data,
				MimeType: p.Image.MimeType,
			}})
			continue
		}
		parts = append(parts, part{Text: p.Text})
	}

	cfg := generationConfig{
		Temperature:        req.Temperature,
		ResponseMimeType:   req.ResponseMIMEType,
		ResponseSchema:     req.ResponseSchema,
		ResponseModalities: req.ResponseModalities,
	}
	if req.AspectRatio != "" {
		cfg.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio}
	}

	out := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if cfg.Temperature != 0 || cfg.ResponseMimeType != "" || cfg.ResponseSchema != nil ||
		len(cfg.ResponseModalities) > 0 || cfg.ImageConfig != nil {
		out.GenerationConfig = &cfg
	}
	return out
}

func (c *Client) generateContent(ctx context.Context, apiKey, model string, payload generateContentRequest) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	raw, err := c.do(ctx, apiKey, http.MethodPost, url, body)
	if err != nil {
		return Response{}, err
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	resp := extractResponse(decoded)
	c.logger.Debug("gemini generateContent",
		"model", model,
		"dur_ms", time.Since(start).Milliseconds(),
		"images", len(resp.Images),
		"finish_reason", resp.FinishReason,
		"block_reason", resp.BlockReason,
	)
	return resp, nil
}

func (c *Client) do(ctx context.Context, apiKey, method, url string, body []byte) ([]byte, error) {
	if c.httpClient == nil {
		return nil, errors.New("http client is nil")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("content-type", "application/json")
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Body:       strings.TrimSpace(string(rawBody)),
		}
	}
	return rawBody, nil
}

func extractResponse(resp generateContentResponse) Response {
	out := Response{Candidates: len(resp.Candidates)}
	if resp.PromptFeedback != nil {
		out.BlockReason = resp.PromptFeedback.BlockReason
		out.SafetyRatings = resp.PromptFeedback.SafetyRatings
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	cand := resp.Candidates[0]
	out.FinishReason = cand.FinishReason
	if len(out.SafetyRatings) == 0 {
		out.SafetyRatings = cand.SafetyRatings
	}

	var textBuilder strings.Builder
	for _, p := range cand.Content.Parts {
		if p.Thought {
			continue
		}
		if p.Text != "" {
			textBuilder.WriteString(p.Text)
		}
		if p.InlineData != nil && p.InlineData.Data != "" && p.InlineData.MimeType != "" {
			out.Images = append(out.Images, media.Inline{
				MimeType: p.InlineData.MimeType,
				Data:     p.InlineData.Data,
			})
		}
	}
	out.Text = textBuilder.String()
	return out
}

func decodeOperation(raw []byte) (Operation, error) {
	var decoded operationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}

	op := Operation{Name: decoded.Name, Done: decoded.Done}
	if decoded.Error != nil {
		op.ErrorMsg = decoded.Error.Message
		if op.ErrorMsg == "" {
			op.ErrorMsg = fmt.Sprintf("operation failed with code %d", decoded.Error.Code)
		}
	}
	if decoded.Response != nil {
		for _, s := range decoded.Response.GenerateVideoResponse.GeneratedSamples {
			if s.Video.URI != "" {
				op.VideoURIs = append(op.VideoURIs, s.Video.URI)
			}
		}
	}
	return op, nil
}

func isUnknownFieldError(err error, field string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(apiErr.Body, "Unknown name") && strings.Contains(apiErr.Body, field)
}
