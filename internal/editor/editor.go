// Package editor holds the self-contained editing flows: model sheets,
// product registration, scene rewrites and frame edits. Each keeps its draft
// locally until Save hands the result to its owner by value.
package editor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"adstudio/internal/apperr"
	"adstudio/internal/generation"
	"adstudio/internal/media"
	"adstudio/internal/prompt"
	"adstudio/internal/storyboard"
)

type inFlight struct {
	mu sync.Mutex
	on bool
}

func (f *inFlight) acquire(what string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.on {
		return apperr.Precondition("%s is already in progress", what)
	}
	f.on = true
	return nil
}

func (f *inFlight) release() {
	f.mu.Lock()
	f.on = false
	f.mu.Unlock()
}

func (f *inFlight) busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

type SheetGenerator interface {
	GenerateModelSheet(ctx context.Context, req generation.ModelSheetRequest) (string, error)
}

type ModelRegistry interface {
	AddModel(m storyboard.Model) error
}

type ModelSheetEditor struct {
	gen      SheetGenerator
	registry ModelRegistry
	flight   inFlight

	mu    sync.Mutex
	draft generation.ModelSheetRequest
	sheet string
}

func NewModelSheetEditor(gen SheetGenerator, registry ModelRegistry) *ModelSheetEditor {
	return &ModelSheetEditor{gen: gen, registry: registry}
}

// Generate renders a sheet for req. Calling it again regenerates from the new
// request and replaces the previous sheet.
func (e *ModelSheetEditor) Generate(ctx context.Context, req generation.ModelSheetRequest) (string, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return "", apperr.InvalidInput("model name is required")
	}
	if len(req.Images) == 0 || len(req.Images) > generation.MaxSheetReferences {
		return "", apperr.InvalidInput("model needs 1 to %d reference images, got %d", generation.MaxSheetReferences, len(req.Images))
	}
	if req.Style == "" {
		req.Style = prompt.StyleRealistic
	}
	if err := e.flight.acquire("model sheet generation"); err != nil {
		return "", err
	}
	defer e.flight.release()

	sheet, err := e.gen.GenerateModelSheet(ctx, req)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.draft = req
	e.draft.Images = append([]string(nil), req.Images...)
	e.sheet = sheet
	e.mu.Unlock()
	return sheet, nil
}

func (e *ModelSheetEditor) Sheet() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sheet
}

func (e *ModelSheetEditor) Busy() bool {
	return e.flight.busy()
}

func (e *ModelSheetEditor) Save() (storyboard.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sheet == "" {
		return storyboard.Model{}, apperr.Precondition("generate a character sheet before saving")
	}
	m := storyboard.Model{
		Name:        e.draft.Name,
		Description: strings.TrimSpace(e.draft.Description),
		SheetImage:  e.sheet,
	}
	if err := e.registry.AddModel(m); err != nil {
		return storyboard.Model{}, apperr.Wrap(err, apperr.KindInvalidInput, "register model")
	}
	e.draft = generation.ModelSheetRequest{}
	e.sheet = ""
	return m, nil
}

type ProductRegistry interface {
	AddProduct(p storyboard.Product) error
}

type ProductRegistrar struct {
	registry ProductRegistry
}

func NewProductRegistrar(registry ProductRegistry) *ProductRegistrar {
	return &ProductRegistrar{registry: registry}
}

func (r *ProductRegistrar) Save(p storyboard.Product) (storyboard.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	if p.Name == "" {
		return storyboard.Product{}, apperr.InvalidInput("product name is required")
	}
	if len(p.Images) == 0 {
		return storyboard.Product{}, apperr.InvalidInput("product %q needs at least one image", p.Name)
	}

	images := make([]string, 0, len(p.Images))
	for i, img := range p.Images {
		in, err := media.ParseDataURL(img)
		if err != nil {
			return storyboard.Product{}, apperr.InvalidInput("product image %d: %v", i+1, err)
		}
		if !strings.HasPrefix(in.MimeType, "image/") {
			return storyboard.Product{}, apperr.InvalidInput("product image %d is %s, not an image", i+1, in.MimeType)
		}
		images = append(images, media.FormatDataURL(in.MimeType, in.Data))
	}
	p.Images = images

	if err := r.registry.AddProduct(p); err != nil {
		return storyboard.Product{}, apperr.Wrap(err, apperr.KindInvalidInput, "register product")
	}
	return p, nil
}

func (r *ProductRegistrar) SaveFiles(ctx context.Context, name, description string, paths []string) (storyboard.Product, error) {
	images, err := media.LoadFiles(ctx, paths)
	if err != nil {
		return storyboard.Product{}, apperr.InvalidInput("%v", err)
	}
	return r.Save(storyboard.Product{Name: name, Description: description, Images: images})
}

type Rewriter interface {
	RewriteScene(ctx context.Context, scene *storyboard.Scene, request string) (generation.SceneRewrite, error)
	SuggestSceneRewrite(ctx context.Context, prev, current, next *storyboard.Scene) (string, error)
}

type RewriteSink func(title, description string) error

type SceneRewriter struct {
	gen        Rewriter
	scene      storyboard.Scene
	prev, next *storyboard.Scene
	sink       RewriteSink
	flight     inFlight

	mu      sync.Mutex
	request string
	result  *generation.SceneRewrite
}

func NewSceneRewriter(gen Rewriter, scene storyboard.Scene, prev, next *storyboard.Scene, sink RewriteSink) *SceneRewriter {
	return &SceneRewriter{gen: gen, scene: scene.Clone(), prev: prev, next: next, sink: sink}
}

func (e *SceneRewriter) Suggest(ctx context.Context) (string, error) {
	if err := e.flight.acquire("scene rewrite"); err != nil {
		return "", err
	}
	defer e.flight.release()

	scene := e.scene
	suggestion, err := e.gen.SuggestSceneRewrite(ctx, e.prev, &scene, e.next)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.request = suggestion
	e.mu.Unlock()
	return suggestion, nil
}

// Generate rewrites the scene. An empty request falls back to the last
// suggestion.
func (e *SceneRewriter) Generate(ctx context.Context, request string) (generation.SceneRewrite, error) {
	request = strings.TrimSpace(request)
	e.mu.Lock()
	if request == "" {
		request = e.request
	}
	e.mu.Unlock()
	if request == "" {
		return generation.SceneRewrite{}, apperr.InvalidInput("describe the change or ask for a suggestion first")
	}

	if err := e.flight.acquire("scene rewrite"); err != nil {
		return generation.SceneRewrite{}, err
	}
	defer e.flight.release()

	scene := e.scene
	out, err := e.gen.RewriteScene(ctx, &scene, request)
	if err != nil {
		return generation.SceneRewrite{}, err
	}
	e.mu.Lock()
	e.request = request
	e.result = &out
	e.mu.Unlock()
	return out, nil
}

func (e *SceneRewriter) Request() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.request
}

func (e *SceneRewriter) Save() (generation.SceneRewrite, error) {
	e.mu.Lock()
	result := e.result
	e.mu.Unlock()
	if result == nil {
		return generation.SceneRewrite{}, apperr.Precondition("generate a rewrite of scene %d before saving", e.scene.ID)
	}
	if err := e.sink(result.Title, result.Description); err != nil {
		return generation.SceneRewrite{}, err
	}
	return *result, nil
}

type ImageEditorGenerator interface {
	EditImage(ctx context.Context, req generation.EditRequest) (string, error)
}

type FrameSink func(image string) error

type EditParams struct {
	Instruction string   `json:"instruction"`
	ShotTypes   []string `json:"shotTypes"`
	// Mask marks the pixels to change; empty edits the whole image.
	Mask       string   `json:"mask,omitempty"`
	References []string `json:"references,omitempty"`
}

type ImageEditor struct {
	gen     ImageEditorGenerator
	sceneID int
	frame   storyboard.Frame
	image   string
	aspect  string
	sink    FrameSink
	flight  inFlight

	mu     sync.Mutex
	result string
}

func NewImageEditor(gen ImageEditorGenerator, sceneID int, frame storyboard.Frame, image, aspect string, sink FrameSink) (*ImageEditor, error) {
	if _, err := storyboard.ParseFrame(string(frame)); err != nil {
		return nil, apperr.InvalidInput("%v", err)
	}
	if strings.TrimSpace(image) == "" {
		return nil, apperr.Precondition("scene %d has no %s frame to edit", sceneID, frame)
	}
	return &ImageEditor{gen: gen, sceneID: sceneID, frame: frame, image: image, aspect: aspect, sink: sink}, nil
}

// Generate runs one edit. The previous result is cleared first, so a failed
// attempt leaves nothing to save.
func (e *ImageEditor) Generate(ctx context.Context, p EditParams) (string, error) {
	if err := e.flight.acquire(fmt.Sprintf("edit of scene %d %s frame", e.sceneID, e.frame)); err != nil {
		return "", err
	}
	defer e.flight.release()

	e.mu.Lock()
	e.result = ""
	e.mu.Unlock()

	out, err := e.gen.EditImage(ctx, generation.EditRequest{
		Image:       e.image,
		Instruction: p.Instruction,
		ShotTypes:   p.ShotTypes,
		Mask:        p.Mask,
		References:  p.References,
		AspectRatio: e.aspect,
	})
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.result = out
	e.mu.Unlock()
	return out, nil
}

func (e *ImageEditor) Result() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Save writes the edited image back to the owner. The error placeholder is
// never saved.
func (e *ImageEditor) Save() (string, error) {
	e.mu.Lock()
	result := e.result
	e.mu.Unlock()
	if result == "" || result == storyboard.EditErrorImage {
		return "", apperr.Precondition("no edited image to save for scene %d", e.sceneID)
	}
	if err := e.sink(result); err != nil {
		return "", err
	}
	return result, nil
}
