package cmd

import (
	"fmt"

	"backbone/bootstrap"
	"backbone/jobs"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand
func newServeCmd(queueOpts jobs.SetupOptions) *cobra.Command {
	var withAPI bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap all connections, run workers and the admin API",
		Long: `Open every configured connection, start queue listeners and workers when
queue.activate_listeners is set, serve the admin API when api.enabled is set and
wait for SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.NewApp(bootstrap.Options{
				ConfigPath: configFile,
				ConsoleOut: consoleOut(cmd),
				Queue:      queueOpts,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			if cmd.Flags().Changed("api") {
				app.Config.API.Enabled = withAPI
			}

			ctx := cmd.Context()
			if err := app.Connect(ctx); err != nil {
				return fmt.Errorf("bootstrap failed: %w", err)
			}
			if err := app.Start(); err != nil {
				app.Shutdown()
				return fmt.Errorf("failed to start application: %w", err)
			}

			if !quiet {
				successColor.Fprintln(cmd.OutOrStdout(), "backbone is running, press Ctrl+C to stop")
			}
			app.WaitForShutdown(ctx)

			return app.Shutdown()
		},
	}

	cmd.Flags().BoolVar(&withAPI, "api", false, "Serve the admin API (overrides api.enabled)")

	return cmd
}
