// Package provisioning orchestrates agent-driven operations against
// managed servers: package install, PKI bootstrap, reinstall and the
// client certificate lifecycle. Every operation is recorded as a
// provisioning task and guarded by a per-server single-flight status
// transition in the database.
package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/db"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/events"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/remote"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/server"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	sharederrors "github.com/IvanDubrovin-std/ovpn-control/internal/shared/errors"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// AgentInvoker runs agent commands on a remote host. Implemented by
// remote.AgentClient.
type AgentInvoker interface {
	Install(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result
	Configure(ctx context.Context, creds ssh.Credentials, taskID string, cfg *agentapi.Config) *agentapi.Result
	Reinstall(ctx context.Context, creds ssh.Credentials, taskID string, cfg *agentapi.Config) *agentapi.Result
	ListClients(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result
	CreateClient(ctx context.Context, creds ssh.Credentials, taskID, clientName string) *agentapi.Result
	RevokeClient(ctx context.Context, creds ssh.Credentials, taskID, clientName string) *agentapi.Result
	GetStatus(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result
	DisconnectClient(ctx context.Context, creds ssh.Credentials, taskID, clientName string) *agentapi.Result
}

// AgentDeployer keeps the agent installed on managed hosts. Implemented by
// remote.Deployer.
type AgentDeployer interface {
	EnsureInstalled(ctx context.Context, creds ssh.Credentials) error
}

// clientCertValidity is how long issued client certificates stay valid.
const clientCertValidity = 365 * 24 * time.Hour

// Service orchestrates provisioning operations.
type Service struct {
	store       db.Store
	agent       AgentInvoker
	deployer    AgentDeployer
	bus         *events.Bus
	progress    events.ProgressReporter
	taskTimeout time.Duration
	log         *logger.Logger
}

// NewService creates a provisioning service.
func NewService(store db.Store, agent AgentInvoker, deployer AgentDeployer, bus *events.Bus, taskTimeout time.Duration, log *logger.Logger) *Service {
	if taskTimeout == 0 {
		taskTimeout = 10 * time.Minute
	}
	return &Service{
		store:       store,
		agent:       agent,
		deployer:    deployer,
		bus:         bus,
		progress:    events.NewBusProgressReporter(bus),
		taskTimeout: taskTimeout,
		log:         log.WithComponent("provisioning"),
	}
}

// Credentials builds SSH credentials from a server row.
func Credentials(srv db.Server) ssh.Credentials {
	return ssh.Credentials{
		Host:       srv.Host,
		Port:       int(srv.SSHPort),
		User:       srv.SSHUser,
		Password:   srv.SSHPassword,
		PrivateKey: srv.SSHPrivateKey,
	}
}

// AgentConfig builds the agent configuration payload from a server row.
func AgentConfig(srv db.Server) *agentapi.Config {
	return &agentapi.Config{
		ServerHost:       srv.Host,
		Port:             int(srv.VPNPort),
		Protocol:         srv.Protocol,
		Subnet:           srv.Subnet,
		Netmask:          srv.Netmask,
		DNSServers:       srv.DNSServerList(),
		UseStunnel:       srv.UseStunnel,
		StunnelPort:      int(srv.StunnelPort),
		Cipher:           srv.Cipher,
		Auth:             srv.Auth,
		KeepalivePing:    int(srv.KeepalivePing),
		KeepaliveTimeout: int(srv.KeepaliveTimeout),
		MaxClients:       int(srv.MaxClients),
	}
}

// getServer loads a server row, translating missing rows into the domain
// sentinel.
func (s *Service) getServer(ctx context.Context, serverID int64) (db.Server, error) {
	srv, err := s.store.GetServer(ctx, serverID)
	if err != nil {
		if err == sql.ErrNoRows {
			return db.Server{}, fmt.Errorf("server %d: %w", serverID, sharederrors.ErrServerNotFound)
		}
		return db.Server{}, fmt.Errorf("failed to load server %d: %w", serverID, err)
	}
	return srv, nil
}

// acquire performs the single-flight status transition that admits exactly
// one provisioning operation per server. The compare-and-swap loses to any
// concurrent operation that got there first.
func (s *Service) acquire(ctx context.Context, srv db.Server, to server.Status) error {
	cur := server.Status(srv.Status)
	if cur.IsBusy() {
		return fmt.Errorf("server %d is %s: %w", srv.ID, cur, sharederrors.ErrOperationInFlight)
	}
	if !cur.CanTransitionTo(to) {
		return fmt.Errorf("cannot go from %s to %s: %w", cur, to, sharederrors.ErrInvalidStatus)
	}

	ok, err := s.store.TransitionServerStatus(ctx, srv.ID, srv.Status, to.String())
	if err != nil {
		return fmt.Errorf("failed to transition server status: %w", err)
	}
	if !ok {
		return fmt.Errorf("server %d status changed concurrently: %w", srv.ID, sharederrors.ErrOperationInFlight)
	}

	_ = s.bus.PublishServerStatusChanged(srv.ID, srv.Status, to.String(), "provisioning started")
	return nil
}

// settle moves the server to its post-operation status.
func (s *Service) settle(ctx context.Context, serverID int64, from, to server.Status, reason string) {
	if err := s.store.UpdateServerStatus(ctx, serverID, to.String()); err != nil {
		s.log.ErrorContext(ctx, "failed to update server status",
			"server_id", serverID, "status", to, "error", err.Error())
		return
	}
	_ = s.bus.PublishServerStatusChanged(serverID, from.String(), to.String(), reason)
}

// beginTask records a new provisioning task and marks it running.
func (s *Service) beginTask(ctx context.Context, serverID int64, command string) (db.ProvisioningTask, error) {
	task, err := s.store.CreateTask(ctx, db.CreateTaskParams{
		ID:       uuid.NewString(),
		ServerID: serverID,
		Command:  command,
	})
	if err != nil {
		return db.ProvisioningTask{}, fmt.Errorf("failed to create task: %w", err)
	}
	if err := s.store.MarkTaskRunning(ctx, task.ID); err != nil {
		return db.ProvisioningTask{}, fmt.Errorf("failed to mark task running: %w", err)
	}

	_ = s.bus.PublishTaskStarted(task.ID, serverID, command)
	return task, nil
}

// finishTask records the agent result on the task and publishes the
// terminal event.
func (s *Service) finishTask(ctx context.Context, task db.ProvisioningTask, res *agentapi.Result, started time.Time) {
	if res.OK() {
		if err := s.store.CompleteTask(ctx, task.ID, res.Message, res.Output); err != nil {
			s.log.ErrorContext(ctx, "failed to complete task", "task_id", task.ID, "error", err.Error())
		}
		_ = s.bus.PublishTaskCompleted(task.ID, task.ServerID, task.Command, time.Since(started))
		return
	}

	_ = s.store.UpdateTaskProgress(ctx, task.ID, int64(res.Progress), res.Message)
	if err := s.store.FailTask(ctx, task.ID, res.Message, res.Output, res.Error); err != nil {
		s.log.ErrorContext(ctx, "failed to record task failure", "task_id", task.ID, "error", err.Error())
	}
	_ = s.bus.PublishTaskFailed(task.ID, task.ServerID, task.Command, res.Error, res.Progress)
}

// invokeAgent deploys the agent if needed and runs one command under the
// task timeout, reporting the orchestrator-side steps as progress events.
func (s *Service) invokeAgent(ctx context.Context, srv db.Server, taskID, command string,
	call func(ctx context.Context, creds ssh.Credentials) *agentapi.Result) *agentapi.Result {

	ctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	creds := Credentials(srv)
	_ = s.progress.ReportProgress(ctx, taskID, srv.ID, command, 1, "Deploying agent")
	if err := s.deployer.EnsureInstalled(ctx, creds); err != nil {
		return agentapi.Failure("Failed to deploy agent", err.Error(), 0)
	}
	_ = s.progress.ReportProgress(ctx, taskID, srv.ID, command, 5, "Agent ready")
	return call(ctx, creds)
}

// GetServer returns one server row.
func (s *Service) GetServer(ctx context.Context, serverID int64) (db.Server, error) {
	return s.getServer(ctx, serverID)
}

// ListServers returns all registered servers.
func (s *Service) ListServers(ctx context.Context) ([]db.Server, error) {
	return s.store.ListServers(ctx)
}

// Install installs OpenVPN packages on the server.
func (s *Service) Install(ctx context.Context, serverID int64) (db.ProvisioningTask, error) {
	return s.runLifecycleOp(ctx, serverID, agentapi.CommandInstall)
}

// Configure bootstraps the PKI and applies the server configuration.
func (s *Service) Configure(ctx context.Context, serverID int64) (db.ProvisioningTask, error) {
	return s.runLifecycleOp(ctx, serverID, agentapi.CommandConfigure)
}

// Reinstall rebuilds the deployment from scratch. All client certificates
// issued before the reinstall are invalidated and marked revoked.
func (s *Service) Reinstall(ctx context.Context, serverID int64) (db.ProvisioningTask, error) {
	return s.runLifecycleOp(ctx, serverID, agentapi.CommandReinstall)
}

// runLifecycleOp drives install, configure and reinstall, which share the
// acquire/invoke/settle shape and differ in the agent call and the
// terminal statuses.
func (s *Service) runLifecycleOp(ctx context.Context, serverID int64, command string) (db.ProvisioningTask, error) {
	srv, err := s.getServer(ctx, serverID)
	if err != nil {
		return db.ProvisioningTask{}, err
	}
	prev := server.Status(srv.Status)

	busy := server.StatusInstalling
	if command == agentapi.CommandReinstall {
		busy = server.StatusReinstalling
	}
	if err := s.acquire(ctx, srv, busy); err != nil {
		return db.ProvisioningTask{}, err
	}

	task, err := s.beginTask(ctx, serverID, command)
	if err != nil {
		s.settle(ctx, serverID, busy, prev, "task creation failed")
		return db.ProvisioningTask{}, err
	}

	started := time.Now()
	ctxLog := logger.AddTaskIDToContext(logger.AddServerIDToContext(ctx, fmt.Sprint(serverID)), task.ID)
	s.log.LogTaskStart(ctxLog, command, srv.Name)

	res := s.invokeAgent(ctx, srv, task.ID, command, func(ctx context.Context, creds ssh.Credentials) *agentapi.Result {
		switch command {
		case agentapi.CommandInstall:
			return s.agent.Install(ctx, creds, task.ID)
		case agentapi.CommandConfigure:
			return s.agent.Configure(ctx, creds, task.ID, AgentConfig(srv))
		default:
			return s.agent.Reinstall(ctx, creds, task.ID, AgentConfig(srv))
		}
	})
	s.finishTask(ctx, task, res, started)

	if !res.OK() {
		// A failed reinstall keeps the last known-good status; the other
		// operations park the server in error.
		failedTo := server.StatusError
		if command == agentapi.CommandReinstall {
			failedTo = prev
		}
		s.settle(ctx, serverID, busy, failedTo, res.Message)
		s.log.LogTaskFailure(ctxLog, command, fmt.Errorf("%s", res.Error))
		return task, sharederrors.NewAgentError(command, task.ID, res.Message, res.Error, nil)
	}

	switch command {
	case agentapi.CommandInstall:
		s.settle(ctx, serverID, busy, server.StatusInstalled, "install completed")
	case agentapi.CommandConfigure:
		s.settle(ctx, serverID, busy, server.StatusInstalled, "configure completed")
	default:
		// The fresh PKI invalidates every previously issued certificate;
		// the certificate rows and the stale session mirror move together.
		err := s.store.ExecTx(ctx, func(q *db.Queries) error {
			if err := q.MarkAllClientCertificatesRevoked(ctx, serverID); err != nil {
				return err
			}
			return q.DeleteVPNConnectionsExcept(ctx, serverID, nil)
		})
		if err != nil {
			s.log.ErrorContext(ctx, "failed to invalidate certificates after reinstall",
				"server_id", serverID, "error", err.Error())
		}
		s.settle(ctx, serverID, busy, server.StatusRunning, "reinstall completed")
	}

	s.log.LogTaskSuccess(ctxLog, command, time.Since(started))
	return task, nil
}

// CheckStatus queries the live daemon state of a server.
func (s *Service) CheckStatus(ctx context.Context, serverID int64) (*agentapi.ServerStatus, error) {
	srv, err := s.getServer(ctx, serverID)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	res := s.invokeAgent(ctx, srv, taskID, agentapi.CommandGetStatus, func(ctx context.Context, creds ssh.Credentials) *agentapi.Result {
		return s.agent.GetStatus(ctx, creds, taskID)
	})
	if !res.OK() {
		return nil, sharederrors.NewAgentError(agentapi.CommandGetStatus, "", res.Message, res.Error, nil)
	}
	return remote.ParseStatus(res)
}
