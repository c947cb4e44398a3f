package agent

import (
	"context"
	"fmt"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// teardownSteps removes the current deployment. Every step is tolerant so a
// partially installed host can still be reinstalled.
func (a *Agent) teardownSteps() []Step {
	return []Step{
		{
			Desc:     "Stopping OpenVPN service",
			Cmd:      fmt.Sprintf("systemctl stop %s 2>/dev/null", serviceUnit),
			Progress: 4,
			Tolerant: true,
		},
		{
			Desc:     "Removing server configuration",
			Cmd:      fmt.Sprintf("rm -rf %s", a.serverDir),
			Progress: 7,
			Tolerant: true,
		},
		{
			Desc:     "Removing PKI workspace",
			Cmd:      fmt.Sprintf("rm -rf %s", a.workspace),
			Progress: 10,
			Tolerant: true,
		},
	}
}

// Reinstall tears the deployment down and rebuilds it from scratch. The PKI
// is recreated, so every certificate issued before the reinstall stops
// being valid.
func (a *Agent) Reinstall(ctx context.Context, cfg *agentapi.Config, report ProgressFunc) *agentapi.Result {
	if report == nil {
		report = nopProgress
	}

	if cfg == nil {
		return agentapi.Failure("Configuration is required", "no config payload provided", 0)
	}
	if err := cfg.Validate(); err != nil {
		return agentapi.Failure("Invalid configuration", err.Error(), 0)
	}

	progress, err := a.runSteps(ctx, a.teardownSteps(), report)
	if err != nil {
		return agentapi.Failure("Failed to tear down existing deployment", err.Error(), progress)
	}

	// Package install lands in 10-30, the full configure flow in 30-100.
	if a.isOpenVPNInstalled(ctx) {
		report(30, "OpenVPN already installed")
	} else {
		p, err := a.runSteps(ctx, installSteps(), remapProgress(report, 10, 30))
		if err != nil {
			return agentapi.Failure("Failed to reinstall OpenVPN", err.Error(), 10+p*20/100)
		}
	}

	res := a.Configure(ctx, cfg, remapProgress(report, 30, 100))
	if !res.OK() {
		return agentapi.Failure(res.Message, res.Error, 30+res.Progress*70/100)
	}

	// The configure sequence just restarted the unit; an inactive service
	// here means the rebuild did not come up and the reinstall failed.
	if !a.isServiceActive(ctx) {
		return agentapi.Failure("OpenVPN service is not active after reinstall",
			fmt.Sprintf("systemctl reports %s as inactive", serviceUnit), 99)
	}

	return agentapi.Success("OpenVPN reinstalled successfully", "")
}
