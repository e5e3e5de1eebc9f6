package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"adstudio/internal/app"
	"adstudio/internal/config"
)

var (
	logLevel string
	env      *app.App
)

var rootCmd = &cobra.Command{
	Use:          "adstudio",
	Short:        "Plan and render ad storyboards with Gemini",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") || os.Getenv("LOG_LEVEL") == "" {
			cfg.LogLevel = logLevel
		}

		logger := app.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
		env, err = app.Build(cmd.Context(), cfg, logger)
		return err
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if env == nil {
			return nil
		}
		return env.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	rootCmd.AddCommand(keyCmd, generateCmd)
}
