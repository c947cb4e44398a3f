package remote

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// fakeExecutor answers remote commands from a rule list keyed by substring.
type fakeExecutor struct {
	rules []execRule
	calls []string
}

type execRule struct {
	match string
	res   *ssh.CommandResult
	err   error
}

func (f *fakeExecutor) ExecuteCommand(ctx context.Context, creds ssh.Credentials, command string) (*ssh.CommandResult, error) {
	f.calls = append(f.calls, command)
	for _, rule := range f.rules {
		if strings.Contains(command, rule.match) {
			return rule.res, rule.err
		}
	}
	return &ssh.CommandResult{ExitCode: 0}, nil
}

func testCreds() ssh.Credentials {
	return ssh.Credentials{Host: "198.51.100.10", Port: 22, User: "root", Password: "secret"}
}

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func TestInvokeParsesAgentResult(t *testing.T) {
	exec := &fakeExecutor{rules: []execRule{
		{match: "install", res: &ssh.CommandResult{
			Stdout:   `{"status":"success","message":"OpenVPN installed successfully","progress":100}`,
			ExitCode: 0,
		}},
	}}
	client := NewAgentClient(exec, "", testLogger())

	res := client.Install(context.Background(), testCreds(), "task-1")
	require.True(t, res.OK())
	assert.Equal(t, "OpenVPN installed successfully", res.Message)

	require.Len(t, exec.calls, 1)
	assert.Contains(t, exec.calls[0], DefaultAgentPath+" install")
	assert.Contains(t, exec.calls[0], "--task-id task-1")
}

func TestInvokeToleratesNoiseBeforeResult(t *testing.T) {
	exec := &fakeExecutor{rules: []execRule{
		{match: "get-status", res: &ssh.CommandResult{
			Stdout: "some stray warning\nanother line\n" +
				`{"status":"success","message":"0 clients connected","output":"{\"is_running\":true,\"connections\":[],\"stats\":{}}","progress":100}` + "\n",
			ExitCode: 0,
		}},
	}}
	client := NewAgentClient(exec, "", testLogger())

	res := client.GetStatus(context.Background(), testCreds(), "task-2")
	require.True(t, res.OK())

	status, err := ParseStatus(res)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
}

func TestInvokeMalformedOutputBecomesFailure(t *testing.T) {
	exec := &fakeExecutor{rules: []execRule{
		{match: "configure", res: &ssh.CommandResult{
			Stdout:   "Segmentation fault (core dumped)",
			ExitCode: 139,
		}},
	}}
	client := NewAgentClient(exec, "", testLogger())

	res := client.Configure(context.Background(), testCreds(), "task-3", agentapi.DefaultConfig())
	require.False(t, res.OK())
	assert.Contains(t, res.Message, "Invalid response from agent")
	assert.Contains(t, res.Error, "Segmentation fault")
}

func TestInvokeTransportErrorBecomesFailure(t *testing.T) {
	exec := &fakeExecutor{rules: []execRule{
		{match: "list-clients", err: fmt.Errorf("connection refused")},
	}}
	client := NewAgentClient(exec, "", testLogger())

	res := client.ListClients(context.Background(), testCreds(), "task-4")
	require.False(t, res.OK())
	assert.Contains(t, res.Message, "Failed to reach agent")
	assert.Contains(t, res.Error, "connection refused")
}

func TestBuildRemoteCommandWithConfig(t *testing.T) {
	client := NewAgentClient(&fakeExecutor{}, "/opt/agent", testLogger())

	cmd, err := client.buildRemoteCommand("configure", "task-9", nil, agentapi.DefaultConfig())
	require.NoError(t, err)

	// The config travels in a task-scoped temp file that is removed in the
	// same shell line, whatever the agent's exit code.
	assert.Contains(t, cmd, "cat > /tmp/agent-config-task-9.json <<'OVPN_AGENT_CFG'")
	assert.Contains(t, cmd, `"port":1194`)
	assert.Contains(t, cmd, "/opt/agent configure --task-id task-9 --config /tmp/agent-config-task-9.json")
	assert.Contains(t, cmd, "rc=$?; rm -f /tmp/agent-config-task-9.json; exit $rc")
}

func TestBuildRemoteCommandWithoutConfig(t *testing.T) {
	client := NewAgentClient(&fakeExecutor{}, "", testLogger())

	cmd, err := client.buildRemoteCommand("revoke-client", "task-5", []string{"--client-name", "alice"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentPath+" revoke-client --task-id task-5 --client-name alice", cmd)
	assert.NotContains(t, cmd, "/tmp/agent-config")
}

func TestParseAgentOutputTruncatesLongDetail(t *testing.T) {
	long := strings.Repeat("x", 2000) + "TAIL"
	res := parseAgentOutput("install", &ssh.CommandResult{Stdout: long})

	require.False(t, res.OK())
	assert.LessOrEqual(t, len(res.Error), maxRawDetail)
	assert.True(t, strings.HasSuffix(res.Error, "TAIL"), "the tail of the output is the useful part")
}

func TestParseClientBundle(t *testing.T) {
	res := agentapi.Success("Client \"alice\" created",
		`{"name":"alice","bundle":"client\ndev tun\n"}`)

	bundle, err := ParseClientBundle(res)
	require.NoError(t, err)
	assert.Equal(t, "alice", bundle.Name)
	assert.Contains(t, bundle.Bundle, "dev tun")

	_, err = ParseClientBundle(agentapi.Success("x", "not json"))
	assert.Error(t, err)
}
