package prompt

import (
	"fmt"
	"strings"
)

type NamedOption struct {
	Key  string
	Name string
}

type StyleMode string

const (
	StyleRealistic StyleMode = "realistic"
	StyleEditorial StyleMode = "editorial"
	StyleCinematic StyleMode = "cinematic"
	StyleArtistic  StyleMode = "artistic"
	StyleBW        StyleMode = "bw"
)

var styleModes = map[StyleMode]struct {
	Name        string
	Description string
}{
	StyleRealistic: {Name: "Realistic", Description: "photorealistic, natural light, lifelike skin and fabric texture"},
	StyleEditorial: {Name: "Editorial", Description: "fashion editorial look, confident poses, magazine-grade lighting"},
	StyleCinematic: {Name: "Cinematic", Description: "cinematic lighting with deep shadows and filmic color grading"},
	StyleArtistic:  {Name: "Artistic", Description: "stylized but professional, creative lighting"},
	StyleBW:        {Name: "Black & White", Description: "high-contrast monochrome studio photography"},
}

func StyleModes() []NamedOption {
	order := []StyleMode{StyleRealistic, StyleEditorial, StyleCinematic, StyleArtistic, StyleBW}
	out := make([]NamedOption, 0, len(order))
	for _, key := range order {
		out = append(out, NamedOption{Key: string(key), Name: styleModes[key].Name})
	}
	return out
}

// ParseStyleMode accepts a mode key; empty means realistic.
func ParseStyleMode(value string) (StyleMode, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return StyleRealistic, nil
	}
	if _, ok := styleModes[StyleMode(value)]; !ok {
		return "", fmt.Errorf("unknown style mode %q", value)
	}
	return StyleMode(value), nil
}

var shotTypes = []string{
	"aerial",
	"worm eyes view",
	"high angle",
	"low angle",
	"dutch angle",
	"over the shoulder",
	"side view",
	"back view",
	"close-up shot",
	"medium shot",
	"wide shot",
	"profile shot",
}

func ShotTypes() []string {
	return append([]string(nil), shotTypes...)
}

// NormalizeShotTypes lowercases, drops unknown and duplicate tags and keeps
// catalog order.
func NormalizeShotTypes(in []string) ([]string, error) {
	want := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !isShotType(s) {
			return nil, fmt.Errorf("unknown shot type %q", s)
		}
		want[s] = struct{}{}
	}

	out := make([]string, 0, len(want))
	for _, s := range shotTypes {
		if _, ok := want[s]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func isShotType(s string) bool {
	for _, t := range shotTypes {
		if t == s {
			return true
		}
	}
	return false
}
