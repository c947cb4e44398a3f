// Package remote drives the provisioning agent on managed hosts: deploying
// the binary, keeping its service unit installed, and invoking its
// commands over SSH.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// Default on-host locations for the deployed agent.
const (
	DefaultAgentPath   = "/usr/local/bin/ovpn-agent"
	DefaultServiceName = "ovpn-agent"
)

// Executor runs commands on a remote host. Satisfied by *ssh.Pool; tests
// substitute fakes.
type Executor interface {
	ExecuteCommand(ctx context.Context, creds ssh.Credentials, command string) (*ssh.CommandResult, error)
}

// ParseStatus decodes the get-status output payload.
func ParseStatus(res *agentapi.Result) (*agentapi.ServerStatus, error) {
	var status agentapi.ServerStatus
	if err := json.Unmarshal([]byte(res.Output), &status); err != nil {
		return nil, fmt.Errorf("failed to parse status payload: %w", err)
	}
	return &status, nil
}

// ParseClientList decodes the list-clients output payload.
func ParseClientList(res *agentapi.Result) (*agentapi.ClientList, error) {
	var list agentapi.ClientList
	if err := json.Unmarshal([]byte(res.Output), &list); err != nil {
		return nil, fmt.Errorf("failed to parse client list payload: %w", err)
	}
	return &list, nil
}

// ParseClientBundle decodes the create-client output payload.
func ParseClientBundle(res *agentapi.Result) (*agentapi.ClientBundle, error) {
	var bundle agentapi.ClientBundle
	if err := json.Unmarshal([]byte(res.Output), &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse client bundle payload: %w", err)
	}
	return &bundle, nil
}
