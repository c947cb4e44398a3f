package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// GetStatus reports whether the daemon is running and which sessions are
// live. When the management socket is unreachable it degrades to a
// systemctl probe instead of failing, so the orchestrator can still tell a
// stopped server from an unreachable one.
func (a *Agent) GetStatus(ctx context.Context) *agentapi.Result {
	status := agentapi.ServerStatus{Connections: []agentapi.Connection{}}

	mgmt, err := dialMgmt(a.mgmtAddr, 5*time.Second)
	if err != nil {
		a.log.Warn("management interface unreachable, falling back to systemctl", "error", err)
		status.IsRunning = a.isServiceActive(ctx)
		return statusResult(status, "Status collected without management interface")
	}
	defer mgmt.Close()

	status.IsRunning = true

	if version, err := mgmt.Version(); err == nil {
		status.Version = version
	}

	lines, err := mgmt.Status()
	if err != nil {
		return agentapi.Failure("Failed to query management status", err.Error(), 0)
	}
	status.Connections = parseStatusConnections(lines)
	status.Stats = aggregateStats(status.Connections)

	return statusResult(status, fmt.Sprintf("%d clients connected", status.Stats.ConnectedClients))
}

// DisconnectClient kills a live session by common name. A session that is
// already gone counts as success; only an unreachable management socket is
// an error.
func (a *Agent) DisconnectClient(ctx context.Context, name string) *agentapi.Result {
	if err := agentapi.ValidateClientName(name); err != nil {
		return agentapi.Failure("Invalid client name", err.Error(), 0)
	}

	mgmt, err := dialMgmt(a.mgmtAddr, 5*time.Second)
	if err != nil {
		return agentapi.Failure("Management interface unreachable", err.Error(), 0)
	}
	defer mgmt.Close()

	found, err := mgmt.Kill(name)
	if err != nil {
		return agentapi.Failure("Failed to disconnect client", err.Error(), 0)
	}
	if !found {
		return agentapi.Success(fmt.Sprintf("Client %q was not connected", name), "")
	}
	return agentapi.Success(fmt.Sprintf("Client %q disconnected", name), "")
}

func (a *Agent) isServiceActive(ctx context.Context) bool {
	res, err := a.runner.Run(ctx, fmt.Sprintf("systemctl is-active %s 2>/dev/null", serviceUnit))
	return err == nil && res.ExitCode == 0
}

func statusResult(status agentapi.ServerStatus, message string) *agentapi.Result {
	output, err := json.Marshal(status)
	if err != nil {
		return agentapi.Failure("Failed to encode status", err.Error(), 0)
	}
	return agentapi.Success(message, string(output))
}
