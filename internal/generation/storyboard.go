package generation

import (
	"context"
	"strings"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
	"adstudio/internal/prompt"
	"adstudio/internal/storyboard"
)

type StoryboardRequest struct {
	Topic        string
	Story        string
	DurationSec  int
	Model        *storyboard.Model
	Product      *storyboard.Product
	AspectRatio  string
	ReferenceURL string
}

type storyboardWire struct {
	StyleGuide storyboard.StyleGuide `json:"styleGuide"`
	Scenes     []struct {
		ID          float64 `json:"id"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Duration    float64 `json:"duration"`
		ToneAndMood string  `json:"toneAndMood"`
		Costume     string  `json:"costume"`
		Background  string  `json:"background"`
	} `json:"scenes"`
}

// GenerateStoryboard asks for a style guide and exactly SceneCount(duration)
// scenes. Extra scenes are dropped; too few is a provider error. Scene ids
// are renumbered 1..n in the returned order.
func (c *Client) GenerateStoryboard(ctx context.Context, req StoryboardRequest) (*storyboard.Storyboard, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, apperr.InvalidInput("topic is required")
	}
	if req.DurationSec <= 0 {
		return nil, apperr.InvalidInput("duration must be positive, got %d", req.DurationSec)
	}

	aspect := prompt.NormalizeAspectRatio(req.AspectRatio)
	if aspect == "" {
		aspect = prompt.DefaultAspectRatio
	}
	count := storyboard.SceneCount(req.DurationSec)

	text := prompt.Storyboard(prompt.StoryboardInput{
		Topic:        topic,
		Story:        req.Story,
		DurationSec:  req.DurationSec,
		SceneCount:   count,
		Model:        req.Model,
		Product:      req.Product,
		AspectRatio:  aspect,
		ReferenceURL: req.ReferenceURL,
	})

	resp, err := c.generate(ctx, "storyboard", c.textModel, gemini.Request{
		Parts:            []gemini.Part{gemini.TextPart(text)},
		ResponseMIMEType: "application/json",
		ResponseSchema:   storyboardSchema,
	})
	if err != nil {
		return nil, err
	}

	var wire storyboardWire
	if err := decodeJSON(resp, "storyboard", &wire); err != nil {
		return nil, err
	}
	if missing := wire.StyleGuide.Missing(); len(missing) > 0 {
		return nil, apperr.Provider(nil, "storyboard style guide is missing %s", strings.Join(missing, ", "))
	}
	if len(wire.Scenes) < count {
		return nil, apperr.Provider(nil, "storyboard has %d scenes, want %d", len(wire.Scenes), count)
	}
	if len(wire.Scenes) > count {
		c.logger.Warn("storyboard has extra scenes, truncating", "got", len(wire.Scenes), "want", count)
		wire.Scenes = wire.Scenes[:count]
	}

	board := &storyboard.Storyboard{
		StyleGuide:  wire.StyleGuide,
		Scenes:      make([]storyboard.Scene, 0, count),
		AspectRatio: aspect,
	}
	for i, s := range wire.Scenes {
		id := i + 1
		board.Scenes = append(board.Scenes, storyboard.Scene{
			ID:            id,
			Title:         s.Title,
			Description:   s.Description,
			Duration:      s.Duration,
			ToneAndMood:   s.ToneAndMood,
			Costume:       s.Costume,
			Background:    s.Background,
			PreviewImages: []string{storyboard.PreviewPlaceholder(id)},
		})
	}
	return board, nil
}

type FramesRequest struct {
	Scene       storyboard.Scene
	Model       storyboard.Model
	Product     storyboard.Product
	StyleGuide  storyboard.StyleGuide
	AspectRatio string
}

// GenerateSceneFrames produces the start frame and then the end frame of a
// scene. The end frame call carries the generated start frame as an extra
// reference, so the two calls are strictly sequential.
func (c *Client) GenerateSceneFrames(ctx context.Context, req FramesRequest) (storyboard.SceneDetails, error) {
	if strings.TrimSpace(req.Model.SheetImage) == "" {
		return storyboard.SceneDetails{}, apperr.InvalidInput("model %q has no character sheet", req.Model.Name)
	}
	if len(req.Product.Images) == 0 {
		return storyboard.SceneDetails{}, apperr.InvalidInput("product %q has no images", req.Product.Name)
	}

	sheet, err := inlineImages([]string{req.Model.SheetImage}, "character sheet")
	if err != nil {
		return storyboard.SceneDetails{}, err
	}
	products, err := inlineImages(req.Product.Images, "product image")
	if err != nil {
		return storyboard.SceneDetails{}, err
	}
	refs := append(sheet, products...)

	aspect := prompt.NormalizeAspectRatio(req.AspectRatio)
	if aspect == "" {
		aspect = prompt.DefaultAspectRatio
	}
	base := prompt.FrameBase(req.Scene, req.Model, req.Product, req.StyleGuide, aspect)

	startParts := append(imageParts(refs), gemini.TextPart(prompt.StartFrame(base)))
	resp, err := c.generate(ctx, "start_frame", c.imageModel, imageRequest(startParts, aspect))
	if err != nil {
		return storyboard.SceneDetails{}, err
	}
	startFrame, err := firstImage(resp, "start frame")
	if err != nil {
		return storyboard.SceneDetails{}, err
	}

	startInline, err := inlineImages([]string{startFrame}, "start frame")
	if err != nil {
		return storyboard.SceneDetails{}, err
	}
	endParts := append(imageParts(append(refs, startInline...)), gemini.TextPart(prompt.EndFrame(base)))
	resp, err = c.generate(ctx, "end_frame", c.imageModel, imageRequest(endParts, aspect))
	if err != nil {
		return storyboard.SceneDetails{}, err
	}
	endFrame, err := firstImage(resp, "end frame")
	if err != nil {
		return storyboard.SceneDetails{}, err
	}

	return storyboard.SceneDetails{
		StartFrame: startFrame,
		EndFrame:   endFrame,
		Prompt:     base,
	}, nil
}

func imageRequest(parts []gemini.Part, aspect string) gemini.Request {
	return gemini.Request{
		Parts:              parts,
		ResponseModalities: []string{gemini.ModalityImage, gemini.ModalityText},
		AspectRatio:        aspect,
	}
}
