package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// runCmd starts the control plane daemon: the reconciliation monitor plus
// the SSH pool housekeeping.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control plane daemon",
	Long: `Run the control plane daemon.

The daemon polls every managed server: it mirrors daemon liveness and the
certificate inventory on the status interval and the live VPN session
table on the connection interval. It exits cleanly on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app.pool.StartCleanupRoutine(ctx)

		app.log.InfoContext(ctx, "control plane started", "db", app.cfg.DB.Path)
		app.monitor.Run(ctx)

		stats := app.pool.GetStats()
		app.log.InfoContext(ctx, "shutting down",
			"open_ssh_connections", stats.TotalConnections,
			"idle_ssh_connections", stats.IdleConnections)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
