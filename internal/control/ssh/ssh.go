package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Credentials describe how to reach a managed host. Either Password or
// PrivateKey must be set; when both are present the key is preferred.
type Credentials struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string // PEM-encoded private key content
}

// Addr returns the host:port dial address.
func (c Credentials) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// CommandResult captures a remote command execution. A non-zero exit code
// is reported here, not as an error; errors mean the command could not be
// executed at all.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Client defines the interface for an SSH client.
type Client interface {
	RunCommand(ctx context.Context, command string) (*CommandResult, error)
}

type client struct {
	config *ssh.ClientConfig
	addr   string
}

// NewClient creates a new SSH client for the given credentials.
func NewClient(creds Credentials, connectTimeout time.Duration) (Client, error) {
	var auth []ssh.AuthMethod

	if creds.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		auth = append(auth, ssh.Password(creds.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method provided for %s", creds.Host)
	}

	if connectTimeout == 0 {
		connectTimeout = 30 * time.Second
	}

	config := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: In a real app, use a proper host key callback.
		Timeout:         connectTimeout,
	}

	return &client{
		config: config,
		addr:   creds.Addr(),
	}, nil
}

func (c *client) RunCommand(ctx context.Context, command string) (*CommandResult, error) {
	conn, err := ssh.Dial("tcp", c.addr, c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		result := &CommandResult{
			Stdout:   strings.TrimSpace(stdoutBuf.String()),
			Stderr:   strings.TrimSpace(stderrBuf.String()),
			Duration: time.Since(start),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
		return result, nil
	}
}
