package agent

import (
	"context"
	"fmt"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// installSteps covers package installation. Only the package install itself
// is fatal; a failed index refresh may still leave a usable cache.
func installSteps() []Step {
	return []Step{
		{
			Desc:     "Updating package index",
			Cmd:      "apt-get update 2>/dev/null",
			Progress: 15,
			Tolerant: true,
		},
		{
			Desc:     "Installing OpenVPN and easy-rsa",
			Cmd:      "DEBIAN_FRONTEND=noninteractive apt-get install -y openvpn easy-rsa",
			Progress: 70,
		},
		{
			Desc:     "Verifying OpenVPN installation",
			Cmd:      "command -v openvpn",
			Progress: 90,
		},
	}
}

// Install installs OpenVPN and easy-rsa. It is idempotent: when OpenVPN is
// already on PATH it reports success without touching the package system.
func (a *Agent) Install(ctx context.Context, report ProgressFunc) *agentapi.Result {
	if report == nil {
		report = nopProgress
	}

	if a.isOpenVPNInstalled(ctx) {
		a.log.Info("openvpn already installed, skipping")
		return agentapi.Success("OpenVPN already installed", "")
	}

	progress, err := a.runSteps(ctx, installSteps(), report)
	if err != nil {
		return agentapi.Failure("Failed to install OpenVPN", err.Error(), progress)
	}

	return agentapi.Success("OpenVPN installed successfully", "")
}

func (a *Agent) isOpenVPNInstalled(ctx context.Context) bool {
	res, err := a.runner.Run(ctx, "command -v openvpn")
	return err == nil && res.ExitCode == 0
}

// ensureInstalled is used by workflows that require the packages to be
// present before they run.
func (a *Agent) ensureInstalled(ctx context.Context) error {
	if a.isOpenVPNInstalled(ctx) {
		return nil
	}
	return fmt.Errorf("openvpn is not installed")
}
