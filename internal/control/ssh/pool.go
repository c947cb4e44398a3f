package ssh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Connection represents a pooled SSH connection
type Connection struct {
	client   Client
	lastUsed time.Time
	addr     string
}

// Pool manages SSH connections with pooling and idle timeout. Connections
// are keyed by dial address; credentials are supplied per call because each
// managed server carries its own.
type Pool struct {
	connections    map[string]*Connection
	mutex          sync.RWMutex
	maxIdle        time.Duration
	connectTimeout time.Duration
	commandTimeout time.Duration
	logger         *slog.Logger
}

// NewPool creates a new SSH connection pool. commandTimeout bounds
// commands whose caller context carries no deadline of its own.
func NewPool(logger *slog.Logger, connectTimeout, commandTimeout, maxIdle time.Duration) *Pool {
	if maxIdle == 0 {
		maxIdle = 5 * time.Minute
	}

	return &Pool{
		connections:    make(map[string]*Connection),
		maxIdle:        maxIdle,
		connectTimeout: connectTimeout,
		commandTimeout: commandTimeout,
		logger:         logger,
	}
}

// GetConnection retrieves or creates an SSH connection from the pool
func (p *Pool) GetConnection(creds Credentials) (Client, error) {
	addr := creds.Addr()

	p.mutex.RLock()
	if conn, exists := p.connections[addr]; exists {
		if conn.client != nil && p.isConnectionHealthy(conn.client) {
			conn.lastUsed = time.Now()
			p.mutex.RUnlock()
			return conn.client, nil
		}
		// Connection is stale, will be replaced
	}
	p.mutex.RUnlock()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := p.connections[addr]; exists && conn.client != nil && p.isConnectionHealthy(conn.client) {
		conn.lastUsed = time.Now()
		return conn.client, nil
	}

	delete(p.connections, addr)

	client, err := p.createNewConnection(creds)
	if err != nil {
		return nil, err
	}

	p.connections[addr] = &Connection{
		client:   client,
		lastUsed: time.Now(),
		addr:     addr,
	}

	p.logger.Debug("established new SSH connection", slog.String("addr", addr))
	return client, nil
}

// createNewConnection creates a new SSH connection with retry logic
func (p *Pool) createNewConnection(creds Credentials) (Client, error) {
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		client, err := NewClient(creds, p.connectTimeout)
		if err == nil {
			return client, nil
		}
		lastErr = err

		if attempt < 2 {
			// Exponential backoff: 1s, 2s
			backoff := time.Duration(1<<attempt) * time.Second
			p.logger.Debug("SSH connection failed, retrying",
				slog.String("addr", creds.Addr()),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))
			time.Sleep(backoff)
		}
	}

	return nil, fmt.Errorf("failed to establish SSH connection after 3 attempts: %w", lastErr)
}

// isConnectionHealthy checks if an SSH connection is still healthy
func (p *Pool) isConnectionHealthy(client Client) bool {
	if client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.RunCommand(ctx, "echo test")
	return err == nil && res.ExitCode == 0
}

// CloseConnection closes and removes a connection from the pool
func (p *Pool) CloseConnection(addr string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, exists := p.connections[addr]; exists {
		delete(p.connections, addr)
		p.logger.Debug("closed SSH connection", slog.String("addr", addr))
	}
}

// CleanupIdleConnections removes idle connections from the pool
func (p *Pool) CleanupIdleConnections() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	for addr, conn := range p.connections {
		if now.Sub(conn.lastUsed) > p.maxIdle {
			delete(p.connections, addr)
			p.logger.Debug("cleaned up idle SSH connection", slog.String("addr", addr))
		}
	}
}

// CloseAllConnections closes all connections in the pool
func (p *Pool) CloseAllConnections() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for addr := range p.connections {
		delete(p.connections, addr)
		p.logger.Debug("closed SSH connection during shutdown", slog.String("addr", addr))
	}
}

// ExecuteCommand executes a command on a host with retry logic. Remote
// commands that run but exit non-zero are returned as results, not
// retried.
func (p *Pool) ExecuteCommand(ctx context.Context, creds Credentials, command string) (*CommandResult, error) {
	const maxRetries = 3
	var lastErr error

	// Long-running invocations set their own deadline; everything else
	// falls under the configured command timeout.
	if _, ok := ctx.Deadline(); !ok && p.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.commandTimeout)
		defer cancel()
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err := p.executeCommandOnce(ctx, creds, command)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !p.isRetryableSSHError(err) {
			p.logger.Debug("non-retryable SSH error encountered",
				slog.String("addr", creds.Addr()),
				slog.String("error", err.Error()))
			break
		}

		// Remove potentially stale connection from pool
		p.CloseConnection(creds.Addr())

		if attempt < maxRetries-1 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(1<<attempt) * time.Second
			p.logger.Debug("SSH command failed, retrying",
				slog.String("addr", creds.Addr()),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				// Continue to next attempt
			}
		}
	}

	return nil, fmt.Errorf("SSH command failed after %d attempts: %w", maxRetries, lastErr)
}

// executeCommandOnce executes a command once without retry logic
func (p *Pool) executeCommandOnce(ctx context.Context, creds Credentials, command string) (*CommandResult, error) {
	client, err := p.GetConnection(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to get SSH connection: %w", err)
	}

	result, err := client.RunCommand(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// isRetryableSSHError determines if an SSH error is worth retrying
func (p *Pool) isRetryableSSHError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Network-related errors that are typically retryable
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"i/o timeout",
		"connection lost",
		"ssh: handshake failed",
	}

	for _, retryableErr := range retryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}

	return false
}

// PoolStats provides statistics about the SSH connection pool
type PoolStats struct {
	TotalConnections  int                  `json:"total_connections"`
	ActiveConnections int                  `json:"active_connections"`
	IdleConnections   int                  `json:"idle_connections"`
	ConnectionsByHost map[string]time.Time `json:"connections_by_host"`
}

// GetStats returns statistics about the SSH connection pool
func (p *Pool) GetStats() *PoolStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := &PoolStats{
		TotalConnections:  len(p.connections),
		ConnectionsByHost: make(map[string]time.Time),
	}

	now := time.Now()
	for addr, connection := range p.connections {
		stats.ConnectionsByHost[addr] = connection.lastUsed

		if now.Sub(connection.lastUsed) > p.maxIdle {
			stats.IdleConnections++
		} else {
			stats.ActiveConnections++
		}
	}

	return stats
}

// StartCleanupRoutine starts a background goroutine to clean up idle connections
func (p *Pool) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CleanupIdleConnections()
			}
		}
	}()
}
