// Package cli implements the mediatorctl commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var configPath string

// NewRootCommand creates the root command for the CLI.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mediatorctl",
		Short: "Send requests and signals through a pattern-keyed mediator",
		Long: `mediatorctl talks to services behind a mediator over the configured transport.
Settings come from config.yaml, SCG_ environment variables and .env.

Examples:
  mediatorctl serve --listen users.created
  mediatorctl send mediator.ping
  mediatorctl send math.square 12
  mediatorctl emit users.created '{"ID":"u-1"}'`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewSendCommand())
	rootCmd.AddCommand(NewEmitCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
