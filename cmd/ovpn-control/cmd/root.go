// Package cmd implements the ovpn-control CLI: the long-running control
// plane daemon plus one-shot server and client management commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/config"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/db"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/events"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/monitor"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/provisioning"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/remote"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "ovpn-control",
	Short:         "OpenVPN fleet control plane",
	Long:          "Manages a fleet of OpenVPN servers: registration, remote provisioning through the deployed agent, client certificate lifecycle and state reconciliation.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: search /etc/ovpn-control, ~/.ovpn-control, .)")
}

// app bundles the wired control plane components shared by every
// subcommand.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   db.Store
	pool    *ssh.Pool
	bus     *events.Bus
	service *provisioning.Service
	monitor *monitor.Monitor
}

// newApp loads configuration and wires the component graph.
func newApp() (*app, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadWithPath(configFile)
	} else {
		cfg, err = config.NewLoader().Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format).WithComponent("ovpn-control")

	store, err := db.NewStore(db.Config{
		Path:            cfg.DB.Path,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pool := ssh.NewPool(log.Logger, cfg.SSH.ConnectTimeout, cfg.SSH.CommandTimeout, cfg.SSH.MaxIdle)
	bus := events.NewBus(log.Logger)

	agent := remote.NewAgentClient(pool, remote.DefaultAgentPath, log)
	deployer := remote.NewDeployer(pool, cfg.Agent.BinaryPath, log)

	service := provisioning.NewService(store, agent, deployer, bus, cfg.SSH.TaskTimeout, log)
	mon := monitor.New(store, agent, bus, monitor.Config{
		StatusInterval:     cfg.Monitor.StatusInterval,
		ConnectionInterval: cfg.Monitor.ConnectionInterval,
	}, log)

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		pool:    pool,
		bus:     bus,
		service: service,
		monitor: mon,
	}, nil
}

// close tears down the component graph in reverse order.
func (a *app) close() {
	a.pool.CloseAllConnections()
	if err := a.bus.Close(); err != nil {
		a.log.Error("failed to close event bus", "error", err.Error())
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("failed to close database", "error", err.Error())
	}
}
