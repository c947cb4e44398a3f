// Package cmd implements the ovpn-agent CLI. Every subcommand writes
// exactly one JSON task result to stdout and keeps its diagnostics on
// stderr, so the orchestrator can parse stdout unconditionally.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/IvanDubrovin-std/ovpn-control/internal/agent"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

var (
	taskID     string
	workspace  string
	serverDir  string
	mgmtAddr   string
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "ovpn-agent",
	Short:         "OpenVPN provisioning agent",
	Long:          "Provisioning agent executed on managed OpenVPN hosts. Invoked over SSH by the orchestrator; prints a single JSON task result on stdout.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Any panic escaping a command is converted into a
// failed JSON result so the orchestrator never sees a bare stack trace on
// stdout.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			emit(agentapi.Failure("Unexpected agent error", fmt.Sprintf("panic: %v", r), 0))
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		emit(agentapi.Failure("Unknown or invalid command", err.Error(), 0))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&taskID, "task-id", "", "Task identifier assigned by the orchestrator")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", agent.DefaultWorkspace, "easy-rsa PKI workspace directory")
	rootCmd.PersistentFlags().StringVar(&serverDir, "server-dir", agent.DefaultServerDir, "OpenVPN server configuration directory")
	rootCmd.PersistentFlags().StringVar(&mgmtAddr, "mgmt-addr", agent.DefaultMgmtAddr, "OpenVPN management interface address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// newAgent builds the agent from the persistent flags.
func newAgent() (*agent.Agent, *logger.Logger) {
	log := logger.New(logLevel, "text").WithComponent("ovpn-agent")
	if taskID != "" {
		log = log.WithTaskID(taskID)
	}

	return agent.New(agent.Options{
		Workspace: workspace,
		ServerDir: serverDir,
		MgmtAddr:  mgmtAddr,
		Logger:    log,
	}), log
}

// progressReporter logs checkpoints to stderr. Reporting is best-effort;
// the authoritative progress value travels in the final result.
func progressReporter(log *logger.Logger) agent.ProgressFunc {
	return func(progress int, desc string) {
		log.Info("progress", "percent", progress, "step", desc)
	}
}

// loadConfigFile reads the JSON config payload delivered by the
// orchestrator.
func loadConfigFile(path string) (*agentapi.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required for this command")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := agentapi.DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// emit writes the result JSON to stdout and exits with the matching code.
func emit(res *agentapi.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		// Last resort: hand-rolled minimal failure payload.
		fmt.Println(`{"status":"failed","message":"failed to encode result","progress":0}`)
		os.Exit(1)
	}
	fmt.Println(string(data))
	if !res.OK() {
		os.Exit(1)
	}
	os.Exit(0)
}

// commandContext gives long-running provisioning work a generous upper
// bound; the orchestrator enforces its own task timeout on top.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Minute)
}
