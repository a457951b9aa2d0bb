// Package cmd provides the backbone command line: serve, check, enqueue, fingerprint
// and config show.
package cmd

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"backbone/jobs"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
)

// defaultTimeout bounds one-shot commands
const defaultTimeout = 30 * time.Second

// NewRootCmd creates the backbone command. queueOpts carries the processors and
// completed handlers a service attaches to its job lists when it serves them.
func NewRootCmd(queueOpts jobs.SetupOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "backbone",
		Short: "Bootstrap shared infrastructure and submit jobs",
		Long: `backbone opens the Redis stores, database pools and job queues described in
the configuration file and submits jobs to the configured job lists.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newServeCmd(queueOpts))
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newEnqueueCmd())
	rootCmd.AddCommand(newFingerprintCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// Execute runs the root command with no job processors attached.
func Execute(ctx context.Context) error {
	return NewRootCmd(jobs.SetupOptions{}).ExecuteContext(ctx)
}

// outputAsJSON writes v as indented JSON
func outputAsJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// consoleOut is where the bootstrap banner goes for the current flags
func consoleOut(cmd *cobra.Command) io.Writer {
	if quiet || outputJSON {
		return io.Discard
	}
	return cmd.OutOrStdout()
}
