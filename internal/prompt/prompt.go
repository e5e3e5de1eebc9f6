// Package prompt builds the text instructions sent to the generative
// provider for each storyboard operation.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"adstudio/internal/storyboard"
)

const DefaultAspectRatio = "16:9"

// BlockParameters closes every block-structured prompt.
const BlockParameters = "--ar 16:9 --style raw --v 6.1 --quality 2"

type StoryboardInput struct {
	Topic        string
	Story        string
	DurationSec  int
	SceneCount   int
	Model        *storyboard.Model
	Product      *storyboard.Product
	AspectRatio  string
	ReferenceURL string
}

func Storyboard(in StoryboardInput) string {
	var b strings.Builder
	b.Grow(4096)

	b.WriteString("ROLE: Senior creative director writing a production-ready advertising storyboard.\n\n")

	b.WriteString("BRIEF:\n")
	b.WriteString(fmt.Sprintf("- Topic: %q\n", in.Topic))
	if story := strings.TrimSpace(in.Story); story != "" {
		b.WriteString(fmt.Sprintf("- Story: %q\n", story))
	} else {
		b.WriteString("- Story: none given, invent one that fits the topic\n")
	}
	b.WriteString(fmt.Sprintf("- Total length: %d seconds\n", in.DurationSec))
	b.WriteString(fmt.Sprintf("- Frame aspect ratio: %s\n", aspectOrDefault(in.AspectRatio)))
	if in.Model != nil {
		b.WriteString(fmt.Sprintf("- Lead character: %q%s\n", in.Model.Name, describe(in.Model.Description)))
	}
	if in.Product != nil {
		b.WriteString(fmt.Sprintf("- Product: %q%s\n", in.Product.Name, describe(in.Product.Description)))
	}
	if ref := strings.TrimSpace(in.ReferenceURL); ref != "" {
		b.WriteString(fmt.Sprintf("- Reference material: %s (use its tone and pacing as inspiration)\n", ref))
	}
	b.WriteString("\n")

	b.WriteString("PROCESS:\n")
	writeSection(&b, "Concept", []string{
		"Pin down the product category, the audience and one core message.",
		"Pick one narrative structure (problem-solution, reversal, comparison, emotional journey).",
	})
	writeSection(&b, "Rhythm", []string{
		"The first 3 seconds hook the viewer.",
		"The midpoint carries the emotional or visual peak.",
		"The last scene delivers the brand message, the product and a call to action.",
	})
	writeSection(&b, "Continuity", uniq([]string{
		leadLine(in.Model),
		productLine(in.Product),
		"Keep characters and recurring locations visually consistent between scenes.",
		"Include at least one product hero shot or packshot.",
	}))
	b.WriteString("\n")

	b.WriteString("OUTPUT SPEC:\n")
	b.WriteString("- styleGuide: artDirection, colorPalette, lightingStyle, editingStyle, overallToneAndMood. All five are required.\n")
	b.WriteString(fmt.Sprintf("- scenes: exactly %d scenes, in presentation order, durations summing to about %d seconds.\n", in.SceneCount, in.DurationSec))
	b.WriteString("- Each scene: id, title (\"location - time of day (start-end s)\"), description, duration, toneAndMood, costume, background.\n")
	b.WriteString("- description is the image/video generation prompt: camera angle and movement, composition, action, expression, audio (music, effects, voice-over) and how the product appears.\n")
	b.WriteString("- Return one JSON object only. No markdown fences.\n")

	return strings.TrimSpace(b.String())
}

// FrameBase is the prompt shared by the start and end frame of a scene.
func FrameBase(scene storyboard.Scene, model storyboard.Model, product storyboard.Product, guide storyboard.StyleGuide, aspect string) string {
	var b strings.Builder
	b.Grow(2048)

	b.WriteString(fmt.Sprintf("Photorealistic ad frame for the product %q featuring the character %q.\n\n", product.Name, model.Name))

	b.WriteString("CREATIVE DIRECTION (STRICT):\n")
	b.WriteString("- Art direction: " + guide.ArtDirection + "\n")
	b.WriteString("- Color palette: " + guide.ColorPalette + "\n")
	b.WriteString("- Lighting: " + guide.LightingStyle + "\n\n")

	b.WriteString("LOCKS:\n")
	for _, line := range []string{
		"Aspect ratio " + aspectOrDefault(aspect) + ", full bleed.",
		"The character's face, body type and hair match the attached character sheet exactly.",
		"The product matches the attached product photos exactly; never substitute it.",
		"Scenes that share a location keep the same background details.",
		"Pure image: no text, subtitles, logos or watermarks.",
	} {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")

	b.WriteString("SCENE:\n")
	b.WriteString(fmt.Sprintf("- Description: %q\n", scene.Description))
	b.WriteString(fmt.Sprintf("- Tone and mood: %q\n", scene.ToneAndMood))
	b.WriteString(fmt.Sprintf("- Costume: %q\n", scene.Costume))
	b.WriteString(fmt.Sprintf("- Setting: %q\n", scene.Background))

	return strings.TrimSpace(b.String())
}

func StartFrame(base string) string {
	return base + "\n\nFRAME: opening frame of the scene. Establish the initial pose and action."
}

func EndFrame(base string) string {
	return base + "\n\nFRAME: closing frame of the scene. The attached opening frame is the direct visual reference: " +
		"keep character, costume, lighting, background and mood identical, but use a different camera angle, " +
		"shot size or pose that reads as the natural continuation of the action."
}

func ModelSheet(name, description string, mode StyleMode) string {
	style, ok := styleModes[mode]
	if !ok {
		style = styleModes[StyleRealistic]
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("TASK: Character turnaround sheet for %q", name))
	if d := strings.TrimSpace(description); d != "" {
		b.WriteString(fmt.Sprintf(", described as %q", d))
	}
	b.WriteString(", based on the attached reference photos.\n\n")

	b.WriteString("LAYOUT:\n")
	for i, view := range []string{"front", "back", "left profile", "front", "right profile"} {
		b.WriteString(fmt.Sprintf("%d. %s view, full body head to toe\n", i+1, view))
	}
	b.WriteString("- One horizontal row, neutral gray backdrop, views clearly separated.\n\n")

	b.WriteString("RULES:\n")
	b.WriteString("- Style: " + style.Description + ", identical across all views.\n")
	b.WriteString("- Same face, clothing and proportions in every view.\n")
	b.WriteString("- No text, labels, numbers or watermarks anywhere.\n")
	if mode == StyleBW {
		b.WriteString("- Output in black and white only.\n")
	} else {
		b.WriteString("- Output in full color.\n")
	}
	return strings.TrimSpace(b.String())
}

func Edit(instruction string, shots []string, hasMask bool, aspect string) string {
	var b strings.Builder
	b.WriteString("TASK: Edit the first attached image.\n")
	if len(shots) > 0 {
		b.WriteString("- Shot types: " + strings.Join(shots, ", ") + "\n")
	} else {
		b.WriteString("- Shot types: keep the current framing\n")
	}
	b.WriteString("- Instruction: " + strings.TrimSpace(instruction) + "\n")
	b.WriteString("- Keep aspect ratio " + aspectOrDefault(aspect) + ".\n")
	if hasMask {
		b.WriteString("- The second image is a mask: change only the marked area.\n")
	}
	b.WriteString("- Any further images are style or object references.\n")
	return strings.TrimSpace(b.String())
}

func AdaptStructured(platform storyboard.Platform, originalPrompt, sceneDescription string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("ROLE: Prompt engineer for the %s video model.\n", platform))
	b.WriteString("Start from the attached opening frame and the scene below and write one JSON object for a short clip.\n\n")
	b.WriteString(fmt.Sprintf("Scene: %q\n", sceneDescription))
	b.WriteString(fmt.Sprintf("Image prompt context: %q\n\n", originalPrompt))
	b.WriteString("SHAPE:\n")
	b.WriteString(`{"prompt": "...", "motion": {"camera_movement": "...", "subject_movement": "..."}, ` +
		`"style": {"aesthetic": "...", "color_grade": "..."}, "negative_prompt": "text, watermark, blurry, deformed hands"}` + "\n")
	b.WriteString("Return the JSON object only.")
	return b.String()
}

func AdaptFreeform(platform storyboard.Platform, originalPrompt, sceneDescription string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("ROLE: Prompt engineer for the %s video model.\n", platform))
	b.WriteString("Write one video prompt that brings the attached opening frame to life.\n\n")
	b.WriteString(fmt.Sprintf("Scene: %q\n", sceneDescription))
	b.WriteString(fmt.Sprintf("Image prompt context: %q\n\n", originalPrompt))
	b.WriteString("RULES:\n")
	for _, line := range []string{
		"Begin from the state shown in the image.",
		"Use a concrete camera move (dolly in, crane up, slow pan, tracking shot).",
		"Name the angle and composition (low angle, over the shoulder, wide).",
		"Describe a smooth progression over a few seconds.",
		"Output the prompt only, no commentary or markdown.",
	} {
		b.WriteString("- " + line + "\n")
	}
	return strings.TrimSpace(b.String())
}

var blockLabels = []string{
	"STYLE",
	"MEDIUM",
	"ERA/CULTURAL_REF",
	"CAMERA",
	"SCENE",
	"LOCATION",
	"LOCATION_DETAIL",
	"TIME_LIGHTING",
	"ARTIFICIAL_LIGHT",
	"LIGHTING_TECHNIQUE",
	"ATMOSPHERE",
	"FOREGROUND",
	"BACKGROUND",
	"COLOR_TONE",
	"CAMERA_TECH",
	"QUALITY",
	"PARAMETERS",
}

func BlockLabels() []string {
	return append([]string(nil), blockLabels...)
}

func BlockPrompt(originalPrompt, sceneDescription string, frame storyboard.Frame) string {
	purpose, camera := "establishing shot that opens the scene", "wide establishing shot"
	if frame == storyboard.FrameEnd {
		purpose, camera = "closing shot that resolves the action", "close-up or medium shot"
	}

	var b strings.Builder
	b.WriteString("TASK: Convert the scene into a block-structured image prompt.\n\n")
	b.WriteString(fmt.Sprintf("Scene: %q\n", sceneDescription))
	b.WriteString(fmt.Sprintf("Context prompt: %q\n", originalPrompt))
	b.WriteString(fmt.Sprintf("Frame: %s (%s)\n\n", frame, purpose))

	b.WriteString("FORMAT: one line of LABEL: value blocks separated by semicolons, in this order:\n")
	for _, label := range blockLabels {
		switch label {
		case "CAMERA":
			b.WriteString("- CAMERA (" + camera + ")\n")
		case "PARAMETERS":
			b.WriteString("- PARAMETERS: " + BlockParameters + " (verbatim)\n")
		default:
			b.WriteString("- " + label + "\n")
		}
	}
	b.WriteString("\nOutput the single line only.")
	return b.String()
}

func Summary(board *storyboard.Storyboard) string {
	var b strings.Builder
	b.WriteString("Summarize this ad storyboard as one paragraph.\n\n")
	for _, s := range board.Scenes {
		b.WriteString("Scene " + strconv.Itoa(s.ID) + ": " + s.Title + " - " + s.Description + "\n")
	}
	return strings.TrimSpace(b.String())
}

func Music(guide storyboard.StyleGuide, summary string) string {
	var b strings.Builder
	b.WriteString("ROLE: Music director for an advertisement.\n\n")
	b.WriteString("STYLE GUIDE:\n")
	b.WriteString("- Art direction: " + guide.ArtDirection + "\n")
	b.WriteString("- Color palette: " + guide.ColorPalette + "\n")
	b.WriteString("- Lighting: " + guide.LightingStyle + "\n")
	b.WriteString("- Editing: " + guide.EditingStyle + "\n")
	b.WriteString("- Tone and mood: " + guide.OverallToneAndMood + "\n\n")
	b.WriteString(fmt.Sprintf("STORY: %q\n\n", summary))
	b.WriteString("OUTPUT: JSON with stylePrompt (comma-separated genre, mood, instruments, tempo, vocals) ")
	b.WriteString("and lyrics (short, matching the story; empty string for an instrumental).")
	return b.String()
}

func Rewrite(scene storyboard.Scene, request string) string {
	var b strings.Builder
	b.WriteString("ROLE: Script writer revising one storyboard scene.\n\n")
	b.WriteString("CURRENT SCENE:\n")
	b.WriteString("- Title: " + scene.Title + "\n")
	b.WriteString("- Description: " + scene.Description + "\n")
	b.WriteString(fmt.Sprintf("- Duration: %g seconds\n\n", scene.Duration))
	b.WriteString(fmt.Sprintf("REQUEST: %q\n\n", strings.TrimSpace(request)))
	b.WriteString("Keep the duration and the scene's role in the story. Return JSON with title and description.")
	return b.String()
}

func Suggestion(prev *storyboard.Scene, current storyboard.Scene, next *storyboard.Scene) string {
	var b strings.Builder
	b.WriteString("ROLE: Creative director reviewing one scene in context.\n\n")
	if prev != nil {
		writeSceneContext(&b, "PREVIOUS", *prev)
	}
	writeSceneContext(&b, "CURRENT", current)
	if next != nil {
		writeSceneContext(&b, "NEXT", *next)
	}
	b.WriteString("Suggest one concrete improvement to the current scene (visual storytelling, emotion or pacing) ")
	b.WriteString("that keeps the flow with its neighbours. One or two sentences.")
	return b.String()
}

func Video(scene storyboard.Scene, adapted string) string {
	if p := strings.TrimSpace(adapted); p != "" {
		return p
	}
	if scene.Details != nil && scene.Details.Prompt != "" {
		return scene.Description + "\n\n" + scene.Details.Prompt
	}
	return scene.Description
}

func writeSceneContext(b *strings.Builder, label string, s storyboard.Scene) {
	b.WriteString(fmt.Sprintf("%s SCENE (%d):\n", label, s.ID))
	b.WriteString("- Title: " + s.Title + "\n")
	b.WriteString("- Description: " + s.Description + "\n\n")
}

func leadLine(m *storyboard.Model) string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%q is the main character and appears consistently.", m.Name)
}

func productLine(p *storyboard.Product) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("Feature %q prominently in product shots and demonstrations.", p.Name)
}

func describe(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ""
	}
	return " - " + desc
}

func aspectOrDefault(value string) string {
	if ar := NormalizeAspectRatio(value); ar != "" {
		return ar
	}
	return DefaultAspectRatio
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("- " + title + ":\n")
	for _, line := range lines {
		b.WriteString("  - " + line + "\n")
	}
}

// NormalizeAspectRatio returns "W:H" for a valid ratio and "" otherwise.
func NormalizeAspectRatio(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil || a <= 0 || b <= 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", a, b)
}
