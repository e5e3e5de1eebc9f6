package generation

import (
	"context"
	"strings"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
	"adstudio/internal/prompt"
)

const MaxSheetReferences = 4

type ModelSheetRequest struct {
	Name        string
	Description string
	// Images are 1..MaxSheetReferences reference photos as data URLs.
	Images []string
	Style  prompt.StyleMode
}

// GenerateModelSheet renders a five-view character sheet from reference
// photos. The sheet is the consistency reference for every later frame.
func (c *Client) GenerateModelSheet(ctx context.Context, req ModelSheetRequest) (string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", apperr.InvalidInput("model name is required")
	}
	if len(req.Images) == 0 || len(req.Images) > MaxSheetReferences {
		return "", apperr.InvalidInput("model needs 1 to %d reference images, got %d", MaxSheetReferences, len(req.Images))
	}
	style := req.Style
	if style == "" {
		style = prompt.StyleRealistic
	}

	refs, err := inlineImages(req.Images, "reference image")
	if err != nil {
		return "", err
	}

	parts := append(imageParts(refs), gemini.TextPart(prompt.ModelSheet(name, req.Description, style)))
	resp, err := c.generate(ctx, "model_sheet", c.imageModel, gemini.Request{
		Parts:              parts,
		ResponseModalities: []string{gemini.ModalityImage, gemini.ModalityText},
	})
	if err != nil {
		return "", err
	}
	return firstImage(resp, "character sheet")
}
