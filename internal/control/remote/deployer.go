package remote

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/errors"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
)

// serviceUnitTemplate is the systemd unit installed for the agent daemon.
const serviceUnitTemplate = `[Unit]
Description=OpenVPN provisioning agent
After=network.target

[Service]
Type=simple
ExecStart=%s daemon
Restart=always
RestartSec=10

[Install]
WantedBy=multi-user.target
`

// Deployer installs, updates and removes the agent binary and its service
// unit on managed hosts.
type Deployer struct {
	exec        Executor
	localPath   string // locally built agent binary to upload
	remotePath  string
	serviceName string
	log         *logger.Logger
}

// NewDeployer creates a deployer that uploads the binary at localPath.
func NewDeployer(exec Executor, localPath string, log *logger.Logger) *Deployer {
	return &Deployer{
		exec:        exec,
		localPath:   localPath,
		remotePath:  DefaultAgentPath,
		serviceName: DefaultServiceName,
		log:         log.WithComponent("agent-deployer"),
	}
}

// IsInstalled checks whether the agent binary is present and executable.
func (d *Deployer) IsInstalled(ctx context.Context, creds ssh.Credentials) (bool, error) {
	res, err := d.exec.ExecuteCommand(ctx, creds, fmt.Sprintf("test -x %s", d.remotePath))
	if err != nil {
		return false, errors.NewDeployError(creds.Host, "probe", "failed to check agent binary", err)
	}
	return res.ExitCode == 0, nil
}

// Deploy uploads the agent binary. The upload is skipped when the remote
// binary already matches the local build.
func (d *Deployer) Deploy(ctx context.Context, creds ssh.Credentials) error {
	data, err := os.ReadFile(d.localPath)
	if err != nil {
		return errors.NewDeployError(creds.Host, "upload", "failed to read local agent binary", err)
	}

	sum := sha256.Sum256(data)
	localHash := hex.EncodeToString(sum[:])

	if upToDate, err := d.isUpToDate(ctx, creds, localHash); err == nil && upToDate {
		d.log.DebugContext(ctx, "agent binary up to date", "host", creds.Host)
		return nil
	}

	d.log.InfoContext(ctx, "uploading agent binary",
		"host", creds.Host, "bytes", len(data))

	encoded := base64.StdEncoding.EncodeToString(data)
	script := fmt.Sprintf(`base64 -d > %s <<'OVPN_AGENT_BIN'
%s
OVPN_AGENT_BIN
chmod 0755 %s`, d.remotePath, encoded, d.remotePath)

	res, err := d.exec.ExecuteCommand(ctx, creds, script)
	if err != nil {
		return errors.NewDeployError(creds.Host, "upload", "failed to upload agent binary", err)
	}
	if res.ExitCode != 0 {
		return errors.NewDeployError(creds.Host, "upload",
			fmt.Sprintf("upload exited with code %d: %s", res.ExitCode, res.Stderr), nil)
	}
	return nil
}

// isUpToDate compares the remote binary hash against the local build.
func (d *Deployer) isUpToDate(ctx context.Context, creds ssh.Credentials, localHash string) (bool, error) {
	res, err := d.exec.ExecuteCommand(ctx, creds,
		fmt.Sprintf("sha256sum %s 2>/dev/null | awk '{print $1}'", d.remotePath))
	if err != nil || res.ExitCode != 0 {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == localHash, nil
}

// InstallService writes the systemd unit and starts the agent daemon.
func (d *Deployer) InstallService(ctx context.Context, creds ssh.Credentials) error {
	unit := fmt.Sprintf(serviceUnitTemplate, d.remotePath)
	script := fmt.Sprintf(`cat > /etc/systemd/system/%s.service <<'OVPN_AGENT_UNIT'
%s
OVPN_AGENT_UNIT
systemctl daemon-reload && systemctl enable --now %s`,
		d.serviceName, unit, d.serviceName)

	res, err := d.exec.ExecuteCommand(ctx, creds, script)
	if err != nil {
		return errors.NewDeployError(creds.Host, "service_install", "failed to install service unit", err)
	}
	if res.ExitCode != 0 {
		return errors.NewDeployError(creds.Host, "service_install",
			fmt.Sprintf("service install exited with code %d: %s", res.ExitCode, res.Stderr), nil)
	}
	return nil
}

// Remove tears the agent down. Teardown is best-effort: a host that is
// already half-cleaned should not fail the removal.
func (d *Deployer) Remove(ctx context.Context, creds ssh.Credentials) error {
	commands := []string{
		fmt.Sprintf("systemctl stop %s 2>/dev/null", d.serviceName),
		fmt.Sprintf("systemctl disable %s 2>/dev/null", d.serviceName),
		fmt.Sprintf("rm -f /etc/systemd/system/%s.service", d.serviceName),
		"systemctl daemon-reload 2>/dev/null",
		fmt.Sprintf("rm -f %s", d.remotePath),
	}

	for _, cmd := range commands {
		if res, err := d.exec.ExecuteCommand(ctx, creds, cmd); err != nil {
			return errors.NewDeployError(creds.Host, "remove", "failed to run removal command", err)
		} else if res.ExitCode != 0 {
			d.log.WarnContext(ctx, "removal command failed, continuing",
				"host", creds.Host, "cmd", cmd, "exit_code", res.ExitCode)
		}
	}
	return nil
}

// EnsureInstalled makes sure the agent binary and service are in place
// before an invocation. Called by the orchestrator ahead of every agent
// command.
func (d *Deployer) EnsureInstalled(ctx context.Context, creds ssh.Credentials) error {
	installed, err := d.IsInstalled(ctx, creds)
	if err != nil {
		return err
	}

	if err := d.Deploy(ctx, creds); err != nil {
		return err
	}

	if !installed {
		if err := d.InstallService(ctx, creds); err != nil {
			return err
		}
	}
	return nil
}
