package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var skipValidate bool

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the stored Gemini API key",
}

var keySetCmd = &cobra.Command{
	Use:     "set [key]",
	Short:   "Validate and store an API key",
	Example: "  adstudio key set AIza...\n  echo $KEY | adstudio key set",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no key given on the command line or stdin")
			}
			key = line
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("api key is empty")
		}

		if !skipValidate {
			valid, err := env.Validator.Validate(ctx, key)
			if err != nil {
				return err
			}
			key = valid
		}
		if err := env.Credentials.Set(ctx, key); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "key stored")
		return nil
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := env.Credentials.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "key cleared")
		return nil
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether an API key is configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		state := "not set"
		if env.Credentials.IsSet() {
			state = "set"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key %s (backend %s)\n", state, env.Config.CredentialBackend)
		return nil
	},
}

func init() {
	keySetCmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "store the key without probing the provider")
	keyCmd.AddCommand(keySetCmd, keyClearCmd, keyStatusCmd)
}
