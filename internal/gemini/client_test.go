package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adstudio/internal/media"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestGenerateContentSendsPartsAndConfig(t *testing.T) {
	var got generateContentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/img-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[
			{"text":"thinking","thought":true},
			{"text":"here you go"},
			{"inlineData":{"mimeType":"image/png","data":"QUJD"}}
		]},"finishReason":"STOP"}]}`)
	})

	resp, err := client.GenerateContent(context.Background(), "secret-key", "img-model", Request{
		Parts: []Part{
			ImagePart(media.Inline{MimeType: "image/jpeg", Data: "Zm9v"}),
			TextPart("draw it"),
		},
		ResponseModalities: []string{ModalityImage, ModalityText},
		AspectRatio:        "16:9",
	})
	require.NoError(t, err)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.Equal(t, "image/jpeg", got.Contents[0].Parts[0].InlineData.MimeType)
	assert.Equal(t, "draw it", got.Contents[0].Parts[1].Text)
	require.NotNil(t, got.GenerationConfig)
	assert.Equal(t, "16:9", got.GenerationConfig.ImageConfig.AspectRatio)

	assert.Equal(t, "here you go", resp.Text)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "QUJD", resp.Images[0].Data)
	assert.Equal(t, "STOP", resp.FinishReason)
}

func TestGenerateContentBlockReason(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY","safetyRatings":[{"category":"HARM_CATEGORY_HARASSMENT","probability":"HIGH","blocked":true}]}}`)
	})

	resp, err := client.GenerateContent(context.Background(), "k", "m", Request{Parts: []Part{TextPart("x")}})
	require.NoError(t, err)
	assert.Equal(t, "SAFETY", resp.BlockReason)
	require.Len(t, resp.SafetyRatings, 1)
	assert.True(t, resp.SafetyRatings[0].Blocked)
	assert.Zero(t, resp.Candidates)
}

func TestGenerateContentAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	})

	_, err := client.GenerateContent(context.Background(), "k", "m", Request{Parts: []Part{TextPart("x")}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, apiErr.Temporary())
	assert.Contains(t, apiErr.Body, "overloaded")
}

func TestGenerateContentDropsUnknownImageConfig(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if n == 1 {
			assert.Contains(t, string(body), "imageConfig")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `Invalid JSON payload received. Unknown name "imageConfig"`)
			return
		}
		assert.NotContains(t, string(body), "imageConfig")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"QQ=="}}]}}]}`)
	})

	resp, err := client.GenerateContent(context.Background(), "k", "m", Request{
		Parts:       []Part{TextPart("x")},
		AspectRatio: "9:16",
	})
	require.NoError(t, err)
	assert.Len(t, resp.Images, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSchemaSerialization(t *testing.T) {
	payload := buildRequest(Request{
		Parts:            []Part{TextPart("x")},
		ResponseMIMEType: "application/json",
		ResponseSchema: &Schema{
			Type:       TypeObject,
			Properties: map[string]*Schema{"title": {Type: TypeString}},
			Required:   []string{"title"},
		},
	})

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"responseMimeType":"application/json"`)
	assert.Contains(t, string(raw), `"responseSchema":{"type":"OBJECT","properties":{"title":{"type":"STRING"}},"required":["title"]}`)
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, `{"models":[]}`)
	})

	assert.NoError(t, client.ListModels(context.Background(), "good"))
	var apiErr *APIError
	require.ErrorAs(t, client.ListModels(context.Background(), "bad"), &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestVideoOperationLifecycle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			var req predictRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if !assert.Len(t, req.Instances, 1) {
				return
			}
			assert.Equal(t, "pan left", req.Instances[0].Prompt)
			assert.Equal(t, "image/png", req.Instances[0].Image.MimeType)
			_, _ = io.WriteString(w, `{"name":"models/veo/operations/op1"}`)
		case r.URL.Path == "/v1beta/models/veo/operations/op1":
			_, _ = io.WriteString(w, `{"name":"models/veo/operations/op1","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://files/video1"}}]}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	op, err := client.StartVideo(context.Background(), "k", "veo", VideoRequest{
		Prompt: "pan left",
		Image:  &media.Inline{MimeType: "image/png", Data: "QQ=="},
	})
	require.NoError(t, err)
	assert.False(t, op.Done)

	op, err = client.GetOperation(context.Background(), "k", op.Name)
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Equal(t, []string{"https://files/video1"}, op.VideoURIs)
}
