package cmd

import (
	"github.com/spf13/cobra"
)

var clientName string

var listClientsCmd = &cobra.Command{
	Use:   "list-clients",
	Short: "List issued client certificates",
	Run: func(cmd *cobra.Command, args []string) {
		a, _ := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		emit(a.ListClients(ctx))
	},
}

var createClientCmd = &cobra.Command{
	Use:   "create-client",
	Short: "Issue a client certificate and build an .ovpn profile",
	Run: func(cmd *cobra.Command, args []string) {
		a, log := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		emit(a.CreateClient(ctx, clientName, progressReporter(log)))
	},
}

var revokeClientCmd = &cobra.Command{
	Use:   "revoke-client",
	Short: "Revoke a client certificate and refresh the CRL",
	Run: func(cmd *cobra.Command, args []string) {
		a, log := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		emit(a.RevokeClient(ctx, clientName, progressReporter(log)))
	},
}

var disconnectClientCmd = &cobra.Command{
	Use:   "disconnect-client",
	Short: "Kill a live session via the management interface",
	Run: func(cmd *cobra.Command, args []string) {
		a, _ := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		emit(a.DisconnectClient(ctx, clientName))
	},
}

func init() {
	for _, c := range []*cobra.Command{createClientCmd, revokeClientCmd, disconnectClientCmd} {
		c.Flags().StringVar(&clientName, "client-name", "", "Client certificate common name")
		_ = c.MarkFlagRequired("client-name")
	}

	rootCmd.AddCommand(listClientsCmd)
	rootCmd.AddCommand(createClientCmd)
	rootCmd.AddCommand(revokeClientCmd)
	rootCmd.AddCommand(disconnectClientCmd)
}
