package generation

import (
	"context"
	"strings"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
	"adstudio/internal/prompt"
	"adstudio/internal/storyboard"
)

type AdaptRequest struct {
	OriginalPrompt   string
	SceneDescription string
	StartFrame       string
	Platform         storyboard.Platform
}

// AdaptPrompt rewrites a scene prompt for a target video platform. For a
// structured platform an unparseable answer is returned as raw text.
func (c *Client) AdaptPrompt(ctx context.Context, req AdaptRequest) (string, error) {
	pf, err := storyboard.LookupPlatform(string(req.Platform))
	if err != nil {
		return "", apperr.InvalidInput("%v", err)
	}
	if strings.TrimSpace(req.StartFrame) == "" {
		return "", apperr.InvalidInput("start frame is required")
	}
	frame, err := inlineImages([]string{req.StartFrame}, "start frame")
	if err != nil {
		return "", err
	}

	switch pf.Output {
	case storyboard.OutputStructured:
		text := prompt.AdaptStructured(pf.Platform, req.OriginalPrompt, req.SceneDescription)
		resp, err := c.generate(ctx, "adapt_prompt", c.textModel, gemini.Request{
			Parts:            append(imageParts(frame), gemini.TextPart(text)),
			ResponseMIMEType: "application/json",
		})
		if err != nil {
			return "", err
		}
		if err := blocked(resp, "adapted prompt"); err != nil {
			return "", err
		}
		raw := strings.TrimSpace(resp.Text)
		if pretty, ok := prettyObject(raw); ok {
			return pretty, nil
		}
		c.logger.Warn("structured prompt is not valid JSON, returning raw text", "platform", pf.Platform)
		return raw, nil

	default:
		text := prompt.AdaptFreeform(pf.Platform, req.OriginalPrompt, req.SceneDescription)
		resp, err := c.generate(ctx, "adapt_prompt", c.textModel, gemini.Request{
			Parts: append(imageParts(frame), gemini.TextPart(text)),
		})
		if err != nil {
			return "", err
		}
		return textOf(resp, "adapted prompt")
	}
}

// MaxEditReferences bounds the reference images of one edit.
const MaxEditReferences = 8

type EditRequest struct {
	Image       string
	Instruction string
	ShotTypes   []string
	Mask        string
	References  []string
	AspectRatio string
}

// EditImage applies a mask-guided edit. When the provider answers without an
// image the error placeholder image is returned with a nil error; a safety
// block is still a BlockedContent failure.
func (c *Client) EditImage(ctx context.Context, req EditRequest) (string, error) {
	if strings.TrimSpace(req.Image) == "" {
		return "", apperr.InvalidInput("source image is required")
	}
	if len(req.References) > MaxEditReferences {
		return "", apperr.InvalidInput("at most %d reference images, got %d", MaxEditReferences, len(req.References))
	}
	shots, err := prompt.NormalizeShotTypes(req.ShotTypes)
	if err != nil {
		return "", apperr.InvalidInput("%v", err)
	}
	if strings.TrimSpace(req.Instruction) == "" && len(shots) == 0 {
		return "", apperr.InvalidInput("instruction or shot type is required")
	}

	images := []string{req.Image}
	hasMask := strings.TrimSpace(req.Mask) != ""
	if hasMask {
		images = append(images, req.Mask)
	}
	images = append(images, req.References...)
	inline, err := inlineImages(images, "edit image")
	if err != nil {
		return "", err
	}

	text := prompt.Edit(req.Instruction, shots, hasMask, req.AspectRatio)
	parts := append(imageParts(inline), gemini.TextPart(text))
	resp, err := c.generate(ctx, "edit_image", c.imageModel, imageRequest(parts, prompt.NormalizeAspectRatio(req.AspectRatio)))
	if err != nil {
		return "", err
	}

	img, err := firstImage(resp, "image edit")
	if apperr.IsKind(err, apperr.KindNoImage) {
		c.logger.Warn("image edit returned no image", "err", err)
		return storyboard.EditErrorImage, nil
	}
	return img, err
}

type BlockPromptRequest struct {
	OriginalPrompt   string
	SceneDescription string
	Frame            storyboard.Frame
}

func (c *Client) GenerateBlockPrompt(ctx context.Context, req BlockPromptRequest) (string, error) {
	if _, err := storyboard.ParseFrame(string(req.Frame)); err != nil {
		return "", apperr.InvalidInput("%v", err)
	}
	if strings.TrimSpace(req.SceneDescription) == "" {
		return "", apperr.InvalidInput("scene description is required")
	}

	text := prompt.BlockPrompt(req.OriginalPrompt, req.SceneDescription, req.Frame)
	resp, err := c.generate(ctx, "block_prompt", c.textModel, gemini.Request{
		Parts: []gemini.Part{gemini.TextPart(text)},
	})
	if err != nil {
		return "", err
	}
	return textOf(resp, "block prompt")
}

func (c *Client) SummarizeStoryboard(ctx context.Context, board *storyboard.Storyboard) (string, error) {
	if board == nil || len(board.Scenes) == 0 {
		return "", apperr.InvalidInput("storyboard is required")
	}
	resp, err := c.generate(ctx, "summary", c.textModel, gemini.Request{
		Parts: []gemini.Part{gemini.TextPart(prompt.Summary(board))},
	})
	if err != nil {
		return "", err
	}
	return textOf(resp, "summary")
}

// GenerateMusicPrompt summarizes the storyboard and turns the summary and the
// style guide into a music generator prompt.
func (c *Client) GenerateMusicPrompt(ctx context.Context, board *storyboard.Storyboard) (storyboard.MusicPrompt, error) {
	summary, err := c.SummarizeStoryboard(ctx, board)
	if err != nil {
		return storyboard.MusicPrompt{}, err
	}

	resp, err := c.generate(ctx, "music_prompt", c.textModel, gemini.Request{
		Parts:            []gemini.Part{gemini.TextPart(prompt.Music(board.StyleGuide, summary))},
		ResponseMIMEType: "application/json",
		ResponseSchema:   musicSchema,
	})
	if err != nil {
		return storyboard.MusicPrompt{}, err
	}

	var out storyboard.MusicPrompt
	if err := decodeJSON(resp, "music prompt", &out); err != nil {
		return storyboard.MusicPrompt{}, err
	}
	if strings.TrimSpace(out.StylePrompt) == "" {
		return storyboard.MusicPrompt{}, apperr.Provider(nil, "music prompt is missing stylePrompt")
	}
	return out, nil
}

type SceneRewrite struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (c *Client) RewriteScene(ctx context.Context, scene *storyboard.Scene, request string) (SceneRewrite, error) {
	if scene == nil {
		return SceneRewrite{}, apperr.InvalidInput("scene is required")
	}
	if strings.TrimSpace(request) == "" {
		return SceneRewrite{}, apperr.InvalidInput("edit request is required")
	}

	resp, err := c.generate(ctx, "rewrite_scene", c.textModel, gemini.Request{
		Parts:            []gemini.Part{gemini.TextPart(prompt.Rewrite(*scene, request))},
		ResponseMIMEType: "application/json",
		ResponseSchema:   rewriteSchema,
	})
	if err != nil {
		return SceneRewrite{}, err
	}

	var out SceneRewrite
	if err := decodeJSON(resp, "scene rewrite", &out); err != nil {
		return SceneRewrite{}, err
	}
	if strings.TrimSpace(out.Title) == "" || strings.TrimSpace(out.Description) == "" {
		return SceneRewrite{}, apperr.Provider(nil, "scene rewrite is missing title or description")
	}
	return out, nil
}

// SuggestSceneRewrite proposes one improvement for current given its
// neighbours; prev and next are nil at the storyboard edges.
func (c *Client) SuggestSceneRewrite(ctx context.Context, prev, current, next *storyboard.Scene) (string, error) {
	if current == nil {
		return "", apperr.InvalidInput("scene is required")
	}
	resp, err := c.generate(ctx, "suggest_rewrite", c.textModel, gemini.Request{
		Parts: []gemini.Part{gemini.TextPart(prompt.Suggestion(prev, *current, next))},
	})
	if err != nil {
		return "", err
	}
	return textOf(resp, "suggestion")
}
