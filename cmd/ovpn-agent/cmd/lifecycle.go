package cmd

import (
	"github.com/spf13/cobra"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install OpenVPN and easy-rsa packages",
	Run: func(cmd *cobra.Command, args []string) {
		a, log := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		emit(a.Install(ctx, progressReporter(log)))
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Bootstrap the PKI and write the server configuration",
	Run: func(cmd *cobra.Command, args []string) {
		a, log := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		cfg, err := loadConfigFile(configPath)
		if err != nil {
			emit(agentapi.Failure("Invalid configuration", err.Error(), 0))
		}
		emit(a.Configure(ctx, cfg, progressReporter(log)))
	},
}

var reinstallCmd = &cobra.Command{
	Use:   "reinstall",
	Short: "Tear down and rebuild the full deployment with a fresh PKI",
	Run: func(cmd *cobra.Command, args []string) {
		a, log := newAgent()
		ctx, cancel := commandContext()
		defer cancel()

		cfg, err := loadConfigFile(configPath)
		if err != nil {
			emit(agentapi.Failure("Invalid configuration", err.Error(), 0))
		}
		emit(a.Reinstall(ctx, cfg, progressReporter(log)))
	},
}

func init() {
	configureCmd.Flags().StringVar(&configPath, "config", "", "Path to the JSON server configuration")
	reinstallCmd.Flags().StringVar(&configPath, "config", "", "Path to the JSON server configuration")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(reinstallCmd)
}
