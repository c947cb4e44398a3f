package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage client certificates",
}

var clientOutputPath string

var clientCreateCmd = &cobra.Command{
	Use:   "create <server-id> <name>",
	Short: "Issue a client certificate and .ovpn profile",
	Long: `Issue a client certificate on the server and store the resulting
single-file .ovpn profile. Use --output to also write the profile to disk.

Example:
  ovpn-control client create 1 alice --output alice.ovpn`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverID, err := parseServerID(args[0])
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		cert, err := app.service.CreateClient(ctx, serverID, args[1])
		if err != nil {
			return err
		}

		fmt.Printf("✅ Issued certificate for %q on server %d\n", cert.Name, serverID)
		if cert.ExpiresAt.Valid {
			fmt.Printf("   Expires: %s\n", cert.ExpiresAt.Time.Format(time.RFC3339))
		}

		if clientOutputPath != "" {
			if err := os.WriteFile(clientOutputPath, []byte(cert.Bundle), 0600); err != nil {
				return fmt.Errorf("failed to write profile: %w", err)
			}
			fmt.Printf("   Profile written to %s\n", clientOutputPath)
		} else {
			fmt.Println(cert.Bundle)
		}
		return nil
	},
}

var clientRevokeCmd = &cobra.Command{
	Use:   "revoke <server-id> <name>",
	Short: "Revoke a client certificate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverID, err := parseServerID(args[0])
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		if err := app.service.RevokeClient(ctx, serverID, args[1]); err != nil {
			// The local record is revoked regardless; surface the remote
			// failure so the operator can retry.
			fmt.Printf("⚠️  Certificate marked revoked locally; remote revocation failed\n")
			return err
		}

		fmt.Printf("✅ Revoked %q on server %d\n", args[1], serverID)
		return nil
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list <server-id>",
	Short: "List client certificates for a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverID, err := parseServerID(args[0])
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		certs, err := app.service.ListClients(cmd.Context(), serverID)
		if err != nil {
			return err
		}
		if len(certs) == 0 {
			fmt.Println("No client certificates")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tISSUED\tEXPIRES")
		for _, cert := range certs {
			expires := "-"
			if cert.ExpiresAt.Valid {
				expires = cert.ExpiresAt.Time.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				cert.Name, cert.Status, cert.IssuedAt.Format("2006-01-02"), expires)
		}
		return w.Flush()
	},
}

var clientDisconnectCmd = &cobra.Command{
	Use:   "disconnect <server-id> <name>",
	Short: "Kill a client's live VPN session",
	Long: `Kill a client's live VPN session through the management interface.

Disconnecting does not revoke the certificate; the client can reconnect.
Use 'client revoke' to permanently bar a client.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverID, err := parseServerID(args[0])
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		if err := app.service.DisconnectClient(ctx, serverID, args[1]); err != nil {
			return err
		}

		fmt.Printf("✅ Disconnected %q on server %d\n", args[1], serverID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(clientCreateCmd, clientRevokeCmd, clientListCmd, clientDisconnectCmd)

	clientCreateCmd.Flags().StringVarP(&clientOutputPath, "output", "o", "", "Write the .ovpn profile to this file instead of stdout")
}
