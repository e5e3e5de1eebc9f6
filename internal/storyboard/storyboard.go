// Package storyboard defines the ad storyboard aggregate and the assets
// referenced while generating it.
package storyboard

import (
	"fmt"
	"math"
)

const (
	MinScenes = 4
	// SecondsPerScene is the nominal scene length used to size a storyboard.
	SecondsPerScene = 2.5
)

// SceneCount is the number of scenes a storyboard of durationSec must have.
func SceneCount(durationSec int) int {
	n := int(math.Ceil(float64(durationSec) / SecondsPerScene))
	if n < MinScenes {
		return MinScenes
	}
	return n
}

type StyleGuide struct {
	ArtDirection       string `json:"artDirection"`
	ColorPalette       string `json:"colorPalette"`
	LightingStyle      string `json:"lightingStyle"`
	EditingStyle       string `json:"editingStyle"`
	OverallToneAndMood string `json:"overallToneAndMood"`
}

// Missing returns the JSON names of empty fields.
func (g StyleGuide) Missing() []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"artDirection", g.ArtDirection},
		{"colorPalette", g.ColorPalette},
		{"lightingStyle", g.LightingStyle},
		{"editingStyle", g.EditingStyle},
		{"overallToneAndMood", g.OverallToneAndMood},
	} {
		if f.value == "" {
			out = append(out, f.name)
		}
	}
	return out
}

type SceneDetails struct {
	StartFrame string `json:"startFrame"`
	EndFrame   string `json:"endFrame"`
	Prompt     string `json:"prompt"`
}

type Scene struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	ToneAndMood string  `json:"toneAndMood"`
	Costume     string  `json:"costume"`
	Background  string  `json:"background"`

	PreviewImages []string      `json:"previewImages"`
	Details       *SceneDetails `json:"sceneDetails,omitempty"`
	VideoURL      string        `json:"videoUrl,omitempty"`
}

// Clone returns a deep copy.
func (s Scene) Clone() Scene {
	s.PreviewImages = append([]string(nil), s.PreviewImages...)
	if s.Details != nil {
		d := *s.Details
		s.Details = &d
	}
	return s
}

type Storyboard struct {
	StyleGuide  StyleGuide `json:"styleGuide"`
	Scenes      []Scene    `json:"scenes"`
	AspectRatio string     `json:"aspectRatio,omitempty"`
}

func (b *Storyboard) Clone() *Storyboard {
	if b == nil {
		return nil
	}
	out := *b
	out.Scenes = make([]Scene, len(b.Scenes))
	for i, s := range b.Scenes {
		out.Scenes[i] = s.Clone()
	}
	return &out
}

// Index returns the position of the scene with id, or -1.
func (b *Storyboard) Index(id int) int {
	if b == nil {
		return -1
	}
	for i := range b.Scenes {
		if b.Scenes[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Storyboard) Scene(id int) (Scene, bool) {
	i := b.Index(id)
	if i < 0 {
		return Scene{}, false
	}
	return b.Scenes[i], true
}

// Neighbors returns the scenes before and after id, nil at the edges.
func (b *Storyboard) Neighbors(id int) (prev, next *Scene) {
	i := b.Index(id)
	if i < 0 {
		return nil, nil
	}
	if i > 0 {
		p := b.Scenes[i-1]
		prev = &p
	}
	if i+1 < len(b.Scenes) {
		n := b.Scenes[i+1]
		next = &n
	}
	return prev, next
}

// Model is an actor asset with its generated character sheet.
type Model struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SheetImage  string `json:"sheetImage"`
}

type Product struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Images      []string `json:"images"`
}

type MusicPrompt struct {
	StylePrompt string `json:"stylePrompt"`
	Lyrics      string `json:"lyrics"`
}

type Frame string

const (
	FrameStart Frame = "start"
	FrameEnd   Frame = "end"
)

func ParseFrame(value string) (Frame, error) {
	switch Frame(value) {
	case FrameStart, FrameEnd:
		return Frame(value), nil
	}
	return "", fmt.Errorf("unknown frame %q", value)
}

// BlockPrompts holds block-structured image prompts for one scene.
type BlockPrompts struct {
	SceneID int    `json:"sceneId"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

func (p BlockPrompts) Get(f Frame) string {
	if f == FrameEnd {
		return p.End
	}
	return p.Start
}

func (p *BlockPrompts) Put(f Frame, value string) {
	if f == FrameEnd {
		p.End = value
		return
	}
	p.Start = value
}

// PreviewPlaceholder is shown for a scene until its start frame exists.
func PreviewPlaceholder(sceneID int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%dplaceholder/100/60", sceneID)
}

// EditErrorImage is returned by an image edit that produced no image.
const EditErrorImage = "https://placehold.co/600x400/ff0000/FFFFFF/png?text=Error"
