package ssh

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func testPool() *Pool {
	return NewPool(slog.Default(), time.Second, 30*time.Second, time.Minute)
}

// stubClient records the deadline each non-health-check command ran under.
type stubClient struct {
	lastDeadline time.Time
}

func (c *stubClient) RunCommand(ctx context.Context, command string) (*CommandResult, error) {
	if command == "echo test" {
		return &CommandResult{ExitCode: 0}, nil
	}
	c.lastDeadline = time.Time{}
	if d, ok := ctx.Deadline(); ok {
		c.lastDeadline = d
	}
	return &CommandResult{Stdout: "ok"}, nil
}

func TestCredentialsAddr(t *testing.T) {
	creds := Credentials{Host: "198.51.100.10", Port: 2222}
	if got := creds.Addr(); got != "198.51.100.10:2222" {
		t.Errorf("unexpected addr %q", got)
	}

	// Zero port falls back to 22.
	creds.Port = 0
	if got := creds.Addr(); got != "198.51.100.10:22" {
		t.Errorf("unexpected default addr %q", got)
	}
}

func TestIsRetryableSSHError(t *testing.T) {
	p := testPool()

	retryable := []string{
		"dial tcp 198.51.100.10:22: connection refused",
		"read tcp: connection reset by peer",
		"ssh: handshake failed: EOF",
		"write: broken pipe",
		"dial tcp: i/o timeout",
		"connect: network is unreachable",
	}
	for _, msg := range retryable {
		if !p.isRetryableSSHError(errors.New(msg)) {
			t.Errorf("%q should be retryable", msg)
		}
	}

	fatal := []string{
		"ssh: unable to authenticate, attempted methods [password]",
		"command exited with status 1",
		"failed to parse private key",
	}
	for _, msg := range fatal {
		if p.isRetryableSSHError(errors.New(msg)) {
			t.Errorf("%q should not be retryable", msg)
		}
	}

	if p.isRetryableSSHError(nil) {
		t.Error("nil error is never retryable")
	}
}

func TestExecuteCommandAppliesCommandTimeout(t *testing.T) {
	p := testPool()
	stub := &stubClient{}
	creds := Credentials{Host: "198.51.100.10", Port: 22}
	p.connections[creds.Addr()] = &Connection{client: stub, lastUsed: time.Now(), addr: creds.Addr()}

	if _, err := p.ExecuteCommand(context.Background(), creds, "uptime"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.lastDeadline.IsZero() {
		t.Fatal("commands without a caller deadline must run under the command timeout")
	}
	if remaining := time.Until(stub.lastDeadline); remaining > 30*time.Second {
		t.Errorf("deadline exceeds the command timeout: %v", remaining)
	}

	// A caller-supplied deadline is left alone.
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	if _, err := p.ExecuteCommand(ctx, creds, "uptime"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(stub.lastDeadline) < 50*time.Minute {
		t.Error("caller deadlines must not be shortened")
	}
}

func TestGetStatsEmptyPool(t *testing.T) {
	p := testPool()

	stats := p.GetStats()
	if stats.TotalConnections != 0 || stats.ActiveConnections != 0 || stats.IdleConnections != 0 {
		t.Errorf("empty pool should report zero stats: %+v", stats)
	}
	if stats.ConnectionsByHost == nil {
		t.Error("connections map must be initialized")
	}
}

func TestCloseAllConnectionsOnEmptyPool(t *testing.T) {
	p := testPool()
	// Must not panic or deadlock.
	p.CloseAllConnections()
	p.CleanupIdleConnections()
}
