package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"backbone/bootstrap"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// checkResult is one line of 'check' output
type checkResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// newCheckCmd creates the 'check' subcommand
func newCheckCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Bootstrap all connections, ping them and exit",
		Long: `Open every configured Redis store, database pool and queue, ping each one and
report the result. Queue listeners and workers are not started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, err := bootstrap.NewApp(bootstrap.Options{ConfigPath: configFile, ConsoleOut: consoleOut(cmd)})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			app.Config.Queue.ActivateListeners = false
			defer app.Shutdown()

			var s *spinner.Spinner
			if showProgress && (quiet || outputJSON) {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Checking connections..."
				s.Start()
			}

			connectErr := app.Connect(ctx)
			var results []checkResult
			if connectErr == nil {
				results = pingAll(ctx, app)
			}

			if s != nil {
				s.Stop()
			}

			if connectErr != nil {
				return fmt.Errorf("bootstrap failed: %w", connectErr)
			}

			if outputJSON {
				if err := outputAsJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				renderCheckResults(cmd, results)
			}

			for _, r := range results {
				if !r.OK {
					return fmt.Errorf("%s is not reachable", r.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator when the banner is suppressed")

	return cmd
}

func pingAll(ctx context.Context, app *bootstrap.App) []checkResult {
	checks := app.HealthChecks()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]checkResult, 0, len(names))
	for _, name := range names {
		result := checkResult{Name: name, OK: true}
		if err := checks[name].Ping(ctx); err != nil {
			result.OK = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func renderCheckResults(cmd *cobra.Command, results []checkResult) {
	out := cmd.OutOrStdout()
	headerColor.Fprintln(out, "\nConnection check")
	if len(results) == 0 {
		warningColor.Fprintln(out, "Nothing configured")
		return
	}
	for _, r := range results {
		if r.OK {
			fmt.Fprintf(out, "  %-40s %s\n", r.Name, successColor.Sprint("OK"))
			continue
		}
		fmt.Fprintf(out, "  %-40s %s %s\n", r.Name, errorColor.Sprint("FAILED"), r.Error)
	}
}
