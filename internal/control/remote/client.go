package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// maxRawDetail bounds how much raw agent stdout is carried into a
// malformed-response failure.
const maxRawDetail = 512

// AgentClient invokes agent commands over SSH. Every invocation returns an
// agentapi.Result; transport failures and unparseable stdout are folded
// into failed results so callers handle exactly one shape.
type AgentClient struct {
	exec      Executor
	agentPath string
	log       *logger.Logger
}

// NewAgentClient creates an agent client on top of a remote executor.
func NewAgentClient(exec Executor, agentPath string, log *logger.Logger) *AgentClient {
	if agentPath == "" {
		agentPath = DefaultAgentPath
	}
	return &AgentClient{
		exec:      exec,
		agentPath: agentPath,
		log:       log.WithComponent("agent-client"),
	}
}

// Install runs the install command.
func (c *AgentClient) Install(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandInstall, taskID, nil, nil)
}

// Configure runs the configure command with the given server config.
func (c *AgentClient) Configure(ctx context.Context, creds ssh.Credentials, taskID string, cfg *agentapi.Config) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandConfigure, taskID, nil, cfg)
}

// Reinstall runs the reinstall command with the given server config.
func (c *AgentClient) Reinstall(ctx context.Context, creds ssh.Credentials, taskID string, cfg *agentapi.Config) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandReinstall, taskID, nil, cfg)
}

// ListClients runs the list-clients command.
func (c *AgentClient) ListClients(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandListClients, taskID, nil, nil)
}

// CreateClient runs the create-client command.
func (c *AgentClient) CreateClient(ctx context.Context, creds ssh.Credentials, taskID, clientName string) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandCreateClient, taskID, []string{"--client-name", clientName}, nil)
}

// RevokeClient runs the revoke-client command.
func (c *AgentClient) RevokeClient(ctx context.Context, creds ssh.Credentials, taskID, clientName string) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandRevokeClient, taskID, []string{"--client-name", clientName}, nil)
}

// GetStatus runs the get-status command.
func (c *AgentClient) GetStatus(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandGetStatus, taskID, nil, nil)
}

// DisconnectClient runs the disconnect-client command.
func (c *AgentClient) DisconnectClient(ctx context.Context, creds ssh.Credentials, taskID, clientName string) *agentapi.Result {
	return c.invoke(ctx, creds, agentapi.CommandDisconnectClient, taskID, []string{"--client-name", clientName}, nil)
}

// invoke builds the remote command line, runs it and parses the result.
func (c *AgentClient) invoke(ctx context.Context, creds ssh.Credentials, command, taskID string, extraArgs []string, cfg *agentapi.Config) *agentapi.Result {
	remoteCmd, err := c.buildRemoteCommand(command, taskID, extraArgs, cfg)
	if err != nil {
		return agentapi.Failure("Failed to build agent invocation", err.Error(), 0)
	}

	c.log.DebugContext(ctx, "invoking agent",
		"command", command, "task_id", taskID, "host", creds.Host)

	res, err := c.exec.ExecuteCommand(ctx, creds, remoteCmd)
	if err != nil {
		return agentapi.Failure(
			fmt.Sprintf("Failed to reach agent for %s", command),
			err.Error(), 0)
	}

	return parseAgentOutput(command, res)
}

// buildRemoteCommand assembles one shell line per invocation. When a config
// payload is needed it is written to a task-scoped temp file via a quoted
// heredoc and removed in the same line, on success and failure alike.
func (c *AgentClient) buildRemoteCommand(command, taskID string, extraArgs []string, cfg *agentapi.Config) (string, error) {
	args := []string{c.agentPath, command, "--task-id", taskID}
	args = append(args, extraArgs...)

	if cfg == nil {
		return strings.Join(args, " "), nil
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent config: %w", err)
	}

	configPath := fmt.Sprintf("/tmp/agent-config-%s.json", taskID)
	args = append(args, "--config", configPath)

	// The quoted heredoc delimiter prevents shell expansion inside the
	// JSON payload.
	script := fmt.Sprintf(`cat > %s <<'OVPN_AGENT_CFG'
%s
OVPN_AGENT_CFG
%s; rc=$?; rm -f %s; exit $rc`,
		configPath, string(payload), strings.Join(args, " "), configPath)

	return script, nil
}

// parseAgentOutput converts raw command output into a Result. Anything
// that is not a well-formed result JSON becomes a structured failure with
// the raw output attached for debugging.
func parseAgentOutput(command string, res *ssh.CommandResult) *agentapi.Result {
	stdout := strings.TrimSpace(res.Stdout)

	if parsed, err := agentapi.DecodeResult([]byte(stdout)); err == nil {
		return parsed
	}

	// The agent prints its result as the final stdout line; tolerate noise
	// before it.
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if parsed, err := agentapi.DecodeResult([]byte(line)); err == nil {
			return parsed
		}
		break
	}

	detail := stdout
	if detail == "" {
		detail = res.Stderr
	}
	if len(detail) > maxRawDetail {
		detail = detail[len(detail)-maxRawDetail:]
	}
	return agentapi.Failure(
		fmt.Sprintf("Invalid response from agent for %s", command),
		detail, 0)
}
