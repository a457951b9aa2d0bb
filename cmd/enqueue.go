package cmd

import (
	"context"
	"fmt"
	"strings"

	"backbone/bootstrap"
	"backbone/jobs"

	"github.com/spf13/cobra"
)

// newEnqueueCmd creates the 'enqueue' subcommand
func newEnqueueCmd() *cobra.Command {
	var (
		payload     string
		name        string
		jobID       string
		identifier  string
		environment string
		jobListPath string
		noWatchList bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue <job-list>",
		Short: "Submit one job to a job list",
		Long: `Resolve the queue of a configured job list, add one job with the given JSON
payload and record it on the watch list when queue.job_list_watch_key is set.`,
		Example: `  backbone enqueue emails --payload '{"customerId":"c1"}' --identifier customerId`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			data := jobs.Payload{}
			if payload != "" {
				decoded, err := jobs.DecodePayload(strings.NewReader(payload))
				if err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
				if decoded != nil {
					data = decoded
				}
			}

			app, err := bootstrap.NewApp(bootstrap.Options{
				ConfigPath: configFile,
				ConsoleOut: consoleOut(cmd),
				Queue:      jobs.SetupOptions{ConfigPath: jobListPath, Environment: environment},
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			app.Config.Queue.ActivateListeners = false
			defer app.Shutdown()

			if err := app.Connect(ctx); err != nil {
				return fmt.Errorf("bootstrap failed: %w", err)
			}

			params := jobs.SubmitParams{
				Payload:     data,
				Name:        name,
				JobID:       jobID,
				Identifier:  identifier,
				ConfigPath:  jobListPath,
				Environment: environment,
			}
			if noWatchList {
				disabled := false
				params.AddToWatchList = &disabled
			}

			res, err := app.Submitter.Submit(ctx, args[0], params)
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			successColor.Fprintf(out, "Job %s added to %s\n", res.JobID, res.QueueName)
			if res.WatchListKey != "" && !quiet {
				infoColor.Fprintf(out, "Watch list: %s\n", res.WatchListKey)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Job payload as a JSON object")
	cmd.Flags().StringVar(&name, "name", "", "Named job (default anonymous)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Explicit job id")
	cmd.Flags().StringVar(&identifier, "identifier", "", "Payload field recorded on the watch list, dotted paths allowed")
	cmd.Flags().StringVar(&environment, "environment", "", "Override the environment part of the queue name")
	cmd.Flags().StringVar(&jobListPath, "job-lists", "", "Config path of the job-list table (default queue.job_lists)")
	cmd.Flags().BoolVar(&noWatchList, "no-watch-list", false, "Do not record the job on the watch list")

	return cmd
}
