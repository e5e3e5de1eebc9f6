package generation

import (
	"bytes"
	"encoding/json"
	"strings"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
)

// extractJSON cuts the first JSON object or array out of model output that
// may carry fences or prose around it.
func extractJSON(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start, end := -1, -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return raw
}

func decodeJSON(resp gemini.Response, what string, v any) error {
	if err := blocked(resp, what); err != nil {
		return err
	}
	raw := extractJSON(resp.Text)
	if raw == "" {
		return apperr.Provider(nil, "empty %s response", what)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return apperr.Provider(err, "parse %s response", what)
	}
	return nil
}

// prettyObject re-indents a JSON object with two spaces. ok is false when
// text does not hold one.
func prettyObject(text string) (string, bool) {
	raw := extractJSON(text)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}

func str(desc string) *gemini.Schema {
	return &gemini.Schema{Type: gemini.TypeString, Description: desc}
}

func num() *gemini.Schema {
	return &gemini.Schema{Type: gemini.TypeNumber}
}

func object(required []string, props map[string]*gemini.Schema) *gemini.Schema {
	return &gemini.Schema{Type: gemini.TypeObject, Properties: props, Required: required}
}

var storyboardSchema = object([]string{"styleGuide", "scenes"}, map[string]*gemini.Schema{
	"styleGuide": object(
		[]string{"artDirection", "colorPalette", "lightingStyle", "editingStyle", "overallToneAndMood"},
		map[string]*gemini.Schema{
			"artDirection":       str(""),
			"colorPalette":       str(""),
			"lightingStyle":      str(""),
			"editingStyle":       str(""),
			"overallToneAndMood": str(""),
		},
	),
	"scenes": {
		Type: gemini.TypeArray,
		Items: object(
			[]string{"id", "title", "description", "duration", "toneAndMood", "costume", "background"},
			map[string]*gemini.Schema{
				"id":          num(),
				"title":       str(""),
				"description": str(""),
				"duration":    num(),
				"toneAndMood": str(""),
				"costume":     str(""),
				"background":  str(""),
			},
		),
	},
})

var musicSchema = object([]string{"stylePrompt", "lyrics"}, map[string]*gemini.Schema{
	"stylePrompt": str("Comma-separated style keywords for a music generator."),
	"lyrics":      str("Song lyrics, empty for an instrumental."),
})

var rewriteSchema = object([]string{"title", "description"}, map[string]*gemini.Schema{
	"title":       str("The new scene title"),
	"description": str("The new scene description"),
})
