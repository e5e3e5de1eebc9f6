package storyboard

import (
	"fmt"
	"strings"
)

type Platform string

const (
	PlatformVeo3       Platform = "VEO-3"
	PlatformKling      Platform = "Kling"
	PlatformHaiLuo     Platform = "HaiLuo"
	PlatformHicksfield Platform = "Hicksfield"
)

type OutputKind int

const (
	// OutputFreeform is plain descriptive prompt text.
	OutputFreeform OutputKind = iota
	// OutputStructured is a JSON object returned pretty-printed.
	OutputStructured
)

type PlatformSpec struct {
	Platform Platform
	Output   OutputKind
}

var platforms = []PlatformSpec{
	{Platform: PlatformVeo3, Output: OutputStructured},
	{Platform: PlatformKling, Output: OutputFreeform},
	{Platform: PlatformHaiLuo, Output: OutputFreeform},
	{Platform: PlatformHicksfield, Output: OutputFreeform},
}

func Platforms() []PlatformSpec {
	return append([]PlatformSpec(nil), platforms...)
}

// LookupPlatform resolves a platform name case-insensitively.
func LookupPlatform(name string) (PlatformSpec, error) {
	name = strings.TrimSpace(name)
	for _, p := range platforms {
		if strings.EqualFold(string(p.Platform), name) {
			return p, nil
		}
	}
	return PlatformSpec{}, fmt.Errorf("unknown platform %q", name)
}

// AdaptedPrompts are platform prompts generated for one scene.
type AdaptedPrompts struct {
	SceneID int                 `json:"sceneId"`
	Prompts map[Platform]string `json:"prompts"`
}

func (a AdaptedPrompts) Clone() AdaptedPrompts {
	out := AdaptedPrompts{SceneID: a.SceneID, Prompts: make(map[Platform]string, len(a.Prompts))}
	for k, v := range a.Prompts {
		out.Prompts[k] = v
	}
	return out
}
