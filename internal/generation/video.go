package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
	"adstudio/internal/media"
)

type VideoRequest struct {
	Prompt      string
	StartFrame  string
	AspectRatio string
}

// GenerateSceneVideo starts a long-running video generation seeded with the
// start frame, polls it until done and returns the clip as a data URL.
func (c *Client) GenerateSceneVideo(ctx context.Context, req VideoRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", apperr.InvalidInput("video prompt is required")
	}
	if strings.TrimSpace(req.StartFrame) == "" {
		return "", apperr.InvalidInput("start frame is required")
	}
	frame, err := media.ParseDataURL(req.StartFrame)
	if err != nil {
		return "", apperr.InvalidInput("start frame: %v", err)
	}
	key, err := c.apiKey()
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := c.runVideo(ctx, key, gemini.VideoRequest{
		Prompt:      req.Prompt,
		Image:       &frame,
		AspectRatio: videoAspect(req.AspectRatio),
	})
	observe("scene_video", c.videoModel, start, err)
	return out, err
}

func (c *Client) runVideo(ctx context.Context, key string, req gemini.VideoRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.videoTimeout)
	defer cancel()

	callCtx, callCancel := context.WithTimeout(ctx, c.callTimeout)
	op, err := c.provider.StartVideo(callCtx, key, c.videoModel, req)
	callCancel()
	if err != nil {
		return "", classify(ctx, err)
	}
	c.logger.Info("video generation started", "operation", op.Name)

	ticker := time.NewTicker(c.videoPollInterval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", apperr.Provider(ctx.Err(), "video generation did not finish within %s", c.videoTimeout)
			}
			return "", apperr.Wrap(ctx.Err(), apperr.KindCanceled, "video generation canceled")
		case <-ticker.C:
		}

		callCtx, callCancel := context.WithTimeout(ctx, c.callTimeout)
		next, err := c.provider.GetOperation(callCtx, key, op.Name)
		callCancel()
		if err != nil {
			err = classify(ctx, err)
			if apperr.IsTransient(err) {
				c.logger.Warn("video poll failed, will retry", "operation", op.Name, "err", err)
				continue
			}
			return "", err
		}
		op = next
		c.logger.Debug("video generation polled", "operation", op.Name, "done", op.Done)
	}

	if op.ErrorMsg != "" {
		return "", apperr.Provider(nil, "video generation failed: %s", op.ErrorMsg)
	}
	if len(op.VideoURIs) == 0 {
		return "", apperr.Provider(nil, "video generation finished without a video")
	}

	callCtx, callCancel = context.WithTimeout(ctx, c.callTimeout)
	defer callCancel()
	data, mimeType, err := c.provider.Download(callCtx, key, op.VideoURIs[0])
	if err != nil {
		return "", classify(ctx, err)
	}
	if !strings.HasPrefix(mimeType, "video/") {
		mimeType = "video/mp4"
	}
	return media.EncodeDataURL(mimeType, data), nil
}

// The video model accepts landscape and portrait only.
func videoAspect(value string) string {
	switch strings.TrimSpace(value) {
	case "16:9", "9:16":
		return strings.TrimSpace(value)
	}
	return ""
}
