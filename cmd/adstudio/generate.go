package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"adstudio/internal/assets"
	"adstudio/internal/editor"
	"adstudio/internal/export"
	"adstudio/internal/generation"
	"adstudio/internal/media"
	"adstudio/internal/pipeline"
	"adstudio/internal/prompt"
)

type generateOptions struct {
	topic        string
	story        string
	duration     string
	aspect       string
	referenceURL string

	modelName   string
	modelDesc   string
	modelImages []string
	style       string

	productName   string
	productDesc   string
	productImages []string

	music bool
	out   string
}

var genOpts generateOptions

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build a model sheet, register a product and render a full storyboard",
	Example: `  adstudio generate --topic "summer soda launch" --duration 15 \
    --model-name Mina --model-image mina1.jpg --model-image mina2.jpg \
    --product-name Fizz --product-image can.png --out ./fizz`,
	Args: cobra.NoArgs,
	RunE: generateCommand,
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genOpts.topic, "topic", "", "ad topic (required)")
	f.StringVar(&genOpts.story, "story", "", "optional story outline")
	f.StringVar(&genOpts.duration, "duration", "15", "ad length in seconds")
	f.StringVar(&genOpts.aspect, "aspect", "9:16", "aspect ratio")
	f.StringVar(&genOpts.referenceURL, "reference-url", "", "optional reference video url")
	f.StringVar(&genOpts.modelName, "model-name", "", "character name (required)")
	f.StringVar(&genOpts.modelDesc, "model-description", "", "character description")
	f.StringArrayVar(&genOpts.modelImages, "model-image", nil, "character reference photo, repeatable (1-4)")
	f.StringVar(&genOpts.style, "style", "", "character sheet style")
	f.StringVar(&genOpts.productName, "product-name", "", "product name (required)")
	f.StringVar(&genOpts.productDesc, "product-description", "", "product description")
	f.StringArrayVar(&genOpts.productImages, "product-image", nil, "product photo, repeatable")
	f.BoolVar(&genOpts.music, "music", false, "also write a music prompt")
	f.StringVarP(&genOpts.out, "out", "o", "storyboard", "output directory")

	for _, name := range []string{"topic", "model-name", "model-image", "product-name", "product-image"} {
		_ = generateCmd.MarkFlagRequired(name)
	}
}

func generateCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	o := genOpts

	style, err := prompt.ParseStyleMode(o.style)
	if err != nil {
		return err
	}

	registry := assets.NewRegistry()

	photos, err := media.LoadFiles(ctx, o.modelImages)
	if err != nil {
		return err
	}
	sheets := editor.NewModelSheetEditor(env.Generator, registry)
	fmt.Fprintf(out, "generating character sheet for %s\n", o.modelName)
	if _, err := sheets.Generate(ctx, generation.ModelSheetRequest{
		Name:        o.modelName,
		Description: o.modelDesc,
		Images:      photos,
		Style:       style,
	}); err != nil {
		return fmt.Errorf("character sheet: %w", err)
	}
	if _, err := sheets.Save(); err != nil {
		return err
	}

	products := editor.NewProductRegistrar(registry)
	if _, err := products.SaveFiles(ctx, o.productName, o.productDesc, o.productImages); err != nil {
		return err
	}

	ctrl := pipeline.New(pipeline.Options{
		Generator:   env.Generator,
		Credentials: env.Credentials,
		Assets:      registry,
		Notifier:    env.Notifier,
		Session:     "cli",
		Logger:      env.Logger,
	})
	unsubscribe := ctrl.Subscribe(progress(cmd))
	defer unsubscribe()

	_, runErr := ctrl.Run(ctx, pipeline.Request{
		Topic:        o.topic,
		Story:        o.story,
		Duration:     o.duration,
		AspectRatio:  o.aspect,
		ReferenceURL: o.referenceURL,
		ModelName:    o.modelName,
		ProductName:  o.productName,
	})

	board := ctrl.Snapshot().Storyboard
	if board == nil {
		return runErr
	}
	if err := writeOutput(cmd, o.out, ctrl.Snapshot()); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	if o.music {
		music, err := ctrl.GenerateMusicPrompt(ctx)
		if err != nil {
			return fmt.Errorf("music prompt: %w", err)
		}
		if err := writeJSON(filepath.Join(o.out, "music.json"), music); err != nil {
			return err
		}
		fmt.Fprintf(out, "music: %s\n", music.StylePrompt)
	}
	return nil
}

// progress prints a line whenever the pipeline moves to another scene.
func progress(cmd *cobra.Command) pipeline.Listener {
	last := -1
	return func(s pipeline.Snapshot) {
		if s.Phase != pipeline.PhaseFrames || s.CurrentSceneID == last || s.Storyboard == nil {
			return
		}
		last = s.CurrentSceneID
		fmt.Fprintf(cmd.ErrOrStderr(), "rendering scene %d/%d\n", s.CurrentSceneID, len(s.Storyboard.Scenes))
	}
}

func writeOutput(cmd *cobra.Command, dir string, snap pipeline.Snapshot) error {
	written, err := export.WriteDir(dir, snap.Storyboard)
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "storyboard.json"), snap.Storyboard); err != nil {
		return err
	}
	for _, path := range written {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
