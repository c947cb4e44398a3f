package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/provisioning"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage OpenVPN servers",
}

var serverAddFlags provisioning.RegisterServerParams
var serverAddDNS string

var serverAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a server",
	Long: `Register a host as a managed OpenVPN server.

Registration only records the host and its SSH credentials; nothing is
installed until 'server install' runs.

Examples:
  ovpn-control server add --name eu-1 --host 203.0.113.10 --ssh-user root --ssh-key ~/.ssh/id_ed25519
  ovpn-control server add --name office --host vpn.example.net --ssh-user ops --ssh-password secret --port 443 --protocol tcp --stunnel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		if keyPath, _ := cmd.Flags().GetString("ssh-key"); keyPath != "" {
			key, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("failed to read ssh key: %w", err)
			}
			serverAddFlags.SSHPrivateKey = string(key)
		}
		if serverAddDNS != "" {
			serverAddFlags.DNSServers = strings.Split(serverAddDNS, ",")
		}

		srv, err := app.service.RegisterServer(cmd.Context(), serverAddFlags)
		if err != nil {
			return err
		}

		fmt.Printf("✅ Registered server %q (id %d) at %s\n", srv.Name, srv.ID, srv.Host)
		fmt.Printf("   Next: ovpn-control server install %d\n", srv.ID)
		return nil
	},
}

var serverInstallCmd = &cobra.Command{
	Use:   "install <server-id>",
	Short: "Install OpenVPN packages on a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args[0], "install")
	},
}

var serverConfigureCmd = &cobra.Command{
	Use:   "configure <server-id>",
	Short: "Bootstrap the PKI and write the server configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args[0], "configure")
	},
}

var serverReinstallCmd = &cobra.Command{
	Use:   "reinstall <server-id>",
	Short: "Tear down and rebuild a server from scratch",
	Long: `Tear down and rebuild a server from scratch.

All previously issued client certificates are invalidated; clients need
new profiles after a reinstall.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args[0], "reinstall")
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status <server-id>",
	Short: "Query the live daemon status of a server",
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

		ctx, cancel := commandContext(cmd)
		defer cancel()

		status, err := app.service.CheckStatus(ctx, serverID)
		if err != nil {
			return err
		}

		if status.IsRunning {
			fmt.Printf("✅ OpenVPN running")
			if status.Version != "" {
				fmt.Printf(" (%s)", status.Version)
			}
			fmt.Println()
		} else {
			fmt.Println("⏸  OpenVPN not running")
		}
		fmt.Printf("   Clients connected: %d\n", status.Stats.ConnectedClients)
		fmt.Printf("   Traffic: %d bytes in / %d bytes out\n",
			status.Stats.TotalBytesIn, status.Stats.TotalBytesOut)
		for _, conn := range status.Connections {
			fmt.Printf("   - %s %s -> %s (since %s)\n",
				conn.CommonName, conn.RealAddress, conn.VirtualAddress,
				conn.ConnectedSince.Format(time.RFC3339))
		}
		return nil
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		servers, err := app.service.ListServers(cmd.Context())
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("No servers registered")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tHOST\tPORT\tPROTO\tSTATUS\tLAST CHECKED")
		for _, srv := range servers {
			lastChecked := "never"
			if srv.LastChecked.Valid {
				lastChecked = srv.LastChecked.Time.Format(time.RFC3339)
			}
			proto := srv.Protocol
			if srv.UseStunnel {
				proto = fmt.Sprintf("%s+stunnel:%d", proto, srv.StunnelPort)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
				srv.ID, srv.Name, srv.Host, srv.VPNPort, proto, srv.Status, lastChecked)
		}
		return w.Flush()
	},
}

// runLifecycle drives one of the install/configure/reinstall commands.
func runLifecycle(cmd *cobra.Command, idArg, op string) error {
	serverID, err := parseServerID(idArg)
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

	fmt.Printf("🔄 Running %s on server %d (this can take several minutes)\n", op, serverID)

	run := app.service.Reinstall
	switch op {
	case "install":
		run = app.service.Install
	case "configure":
		run = app.service.Configure
	}

	task, err := run(ctx, serverID)
	if err != nil {
		if task.ID != "" {
			fmt.Printf("❌ %s failed (task %s)\n", op, task.ID)
		}
		return err
	}

	fmt.Printf("✅ %s completed (task %s)\n", op, task.ID)
	return nil
}

func parseServerID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid server id %q", arg)
	}
	return id, nil
}

// commandContext bounds one-shot commands; provisioning enforces the task
// timeout internally, this is the outer safety net.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 45*time.Minute)
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverAddCmd, serverInstallCmd, serverConfigureCmd,
		serverReinstallCmd, serverStatusCmd, serverListCmd)

	f := serverAddCmd.Flags()
	f.StringVar(&serverAddFlags.Name, "name", "", "Unique server name (required)")
	f.StringVar(&serverAddFlags.Host, "host", "", "Server hostname or IP (required)")
	f.IntVar(&serverAddFlags.SSHPort, "ssh-port", 22, "SSH port")
	f.StringVar(&serverAddFlags.SSHUser, "ssh-user", "", "SSH user (required)")
	f.StringVar(&serverAddFlags.SSHPassword, "ssh-password", "", "SSH password")
	f.String("ssh-key", "", "Path to an SSH private key file")
	f.IntVar(&serverAddFlags.VPNPort, "port", 0, "OpenVPN port (default 1194)")
	f.StringVar(&serverAddFlags.Protocol, "protocol", "", "OpenVPN protocol: udp or tcp (default udp)")
	f.StringVar(&serverAddFlags.Subnet, "subnet", "", "VPN subnet (default 10.8.0.0)")
	f.StringVar(&serverAddFlags.Netmask, "netmask", "", "VPN netmask (default 255.255.255.0)")
	f.StringVar(&serverAddDNS, "dns", "", "Comma-separated DNS servers pushed to clients")
	f.StringVar(&serverAddFlags.Cipher, "cipher", "", "Data channel cipher (default AES-256-GCM)")
	f.StringVar(&serverAddFlags.Auth, "auth", "", "HMAC digest (default SHA256)")
	f.IntVar(&serverAddFlags.MaxClients, "max-clients", 0, "Maximum concurrent clients (0 = unlimited)")
	f.BoolVar(&serverAddFlags.UseStunnel, "stunnel", false, "Wrap the VPN in stunnel")
	f.IntVar(&serverAddFlags.StunnelPort, "stunnel-port", 0, "stunnel listen port (default 443)")

	_ = serverAddCmd.MarkFlagRequired("name")
	_ = serverAddCmd.MarkFlagRequired("host")
	_ = serverAddCmd.MarkFlagRequired("ssh-user")
}
