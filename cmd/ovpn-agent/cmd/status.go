package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var getStatusCmd = &cobra.Command{
	Use:   "get-status",
	Short: "Report daemon state and live sessions",
	Run: func(cmd *cobra.Command, args []string) {
		a, _ := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		emit(a.GetStatus(ctx))
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run as a long-lived service with a periodic liveness heartbeat",
	Run: func(cmd *cobra.Command, args []string) {
		_, log := newAgent()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Info("agent daemon started", "pid", os.Getpid())

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("agent daemon stopping")
				return
			case <-ticker.C:
				log.Debug("agent heartbeat")
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(getStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
