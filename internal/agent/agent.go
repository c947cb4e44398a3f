// Package agent implements the provisioning agent that runs on the managed
// OpenVPN host. Every operation returns an agentapi.Result; the process
// wrapper in cmd/ovpn-agent is responsible for printing it to stdout.
package agent

import (
	"path/filepath"
	"time"

	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
)

// Defaults for the on-host layout. The workspace holds the easy-rsa PKI and
// is always passed in explicitly; there is no fallback to the invoking
// user's home directory.
const (
	DefaultWorkspace = "/root/easy-rsa"
	DefaultServerDir = "/etc/openvpn/server"
	DefaultMgmtAddr  = "127.0.0.1:7505"

	serviceUnit = "openvpn-server@server"
)

// Options configures an Agent.
type Options struct {
	Workspace      string
	ServerDir      string
	MgmtAddr       string
	CommandTimeout time.Duration
	Runner         Runner
	Logger         *logger.Logger
}

// Agent executes provisioning commands on the local host.
type Agent struct {
	workspace string
	serverDir string
	mgmtAddr  string
	runner    Runner
	log       *logger.Logger
}

// New creates an Agent, filling unset options with defaults.
func New(opts Options) *Agent {
	if opts.Workspace == "" {
		opts.Workspace = DefaultWorkspace
	}
	if opts.ServerDir == "" {
		opts.ServerDir = DefaultServerDir
	}
	if opts.MgmtAddr == "" {
		opts.MgmtAddr = DefaultMgmtAddr
	}
	if opts.Runner == nil {
		opts.Runner = NewShellRunner(opts.CommandTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("info", "text")
	}

	return &Agent{
		workspace: opts.Workspace,
		serverDir: opts.ServerDir,
		mgmtAddr:  opts.MgmtAddr,
		runner:    opts.Runner,
		log:       opts.Logger,
	}
}

// pkiPath returns a path inside the easy-rsa PKI directory.
func (a *Agent) pkiPath(elem ...string) string {
	return filepath.Join(append([]string{a.workspace, "pki"}, elem...)...)
}

// serverPath returns a path inside the OpenVPN server directory.
func (a *Agent) serverPath(elem ...string) string {
	return filepath.Join(append([]string{a.serverDir}, elem...)...)
}
