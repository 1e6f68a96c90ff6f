// Package cli provides the pulsed CLI commands.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/apipulse/pulsed/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pulsed",
	Short: "pulsed simulates HTTP APIs from declarative service definitions",
	Long: `pulsed runs simulated versions of real APIs from YAML or JSON
service definitions: canned and scripted responses, stateful fixtures,
scenario selection, latency and error injection, and request logging.`,
	SilenceUsage: true,
}

var globalFlags struct {
	logLevel  string
	logFormat string
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.logFormat, "log-format", "text", "Log format (text, json)")
}

func newLogger() *slog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(globalFlags.logLevel),
		Format: logging.ParseFormat(globalFlags.logFormat),
	})
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
