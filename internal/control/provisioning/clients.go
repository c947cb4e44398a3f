package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/db"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/remote"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/server"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	sharederrors "github.com/IvanDubrovin-std/ovpn-control/internal/shared/errors"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// CreateClient issues a client certificate on the server and stores the
// resulting .ovpn bundle. The certificate row is only written after the
// remote issuance succeeded, so a failed operation leaves no partial state.
func (s *Service) CreateClient(ctx context.Context, serverID int64, name string) (db.ClientCertificate, error) {
	if err := agentapi.ValidateClientName(name); err != nil {
		return db.ClientCertificate{}, fmt.Errorf("%w: %v", sharederrors.ErrInvalidClientName, err)
	}

	srv, err := s.getServer(ctx, serverID)
	if err != nil {
		return db.ClientCertificate{}, err
	}
	if err := s.requireConfigured(srv); err != nil {
		return db.ClientCertificate{}, err
	}

	existing, err := s.store.GetClientCertificate(ctx, serverID, name)
	if err == nil && existing.Status == server.ClientActive {
		return db.ClientCertificate{}, fmt.Errorf("client %q on server %d: %w", name, serverID, sharederrors.ErrClientExists)
	}
	if err != nil && err != sql.ErrNoRows {
		return db.ClientCertificate{}, fmt.Errorf("failed to check existing client: %w", err)
	}

	task, err := s.beginTask(ctx, serverID, agentapi.CommandCreateClient)
	if err != nil {
		return db.ClientCertificate{}, err
	}

	started := time.Now()
	res := s.invokeAgent(ctx, srv, task.ID, agentapi.CommandCreateClient, func(ctx context.Context, creds ssh.Credentials) *agentapi.Result {
		return s.agent.CreateClient(ctx, creds, task.ID, name)
	})
	s.finishTask(ctx, task, res, started)
	if !res.OK() {
		return db.ClientCertificate{}, sharederrors.NewAgentError(agentapi.CommandCreateClient, task.ID, res.Message, res.Error, nil)
	}

	bundle, err := remote.ParseClientBundle(res)
	if err != nil {
		return db.ClientCertificate{}, err
	}

	cert, err := s.store.CreateClientCertificate(ctx, db.CreateClientCertificateParams{
		ServerID:  serverID,
		Name:      name,
		Bundle:    bundle.Bundle,
		ExpiresAt: sql.NullTime{Time: time.Now().Add(clientCertValidity), Valid: true},
	})
	if err != nil {
		return db.ClientCertificate{}, fmt.Errorf("failed to store client certificate: %w", err)
	}

	_ = s.bus.PublishClientCreated(serverID, name)
	return cert, nil
}

// RevokeClient revokes a client certificate on the server. The database row
// is marked revoked even when the remote revocation fails: a certificate we
// tried to revoke must never be handed out again, and the next reconcile or
// retry settles the remote side.
func (s *Service) RevokeClient(ctx context.Context, serverID int64, name string) error {
	srv, err := s.getServer(ctx, serverID)
	if err != nil {
		return err
	}

	if _, err := s.store.GetClientCertificate(ctx, serverID, name); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("client %q on server %d: %w", name, serverID, sharederrors.ErrClientNotFound)
		}
		return fmt.Errorf("failed to load client certificate: %w", err)
	}

	task, err := s.beginTask(ctx, serverID, agentapi.CommandRevokeClient)
	if err != nil {
		return err
	}

	started := time.Now()
	res := s.invokeAgent(ctx, srv, task.ID, agentapi.CommandRevokeClient, func(ctx context.Context, creds ssh.Credentials) *agentapi.Result {
		return s.agent.RevokeClient(ctx, creds, task.ID, name)
	})
	s.finishTask(ctx, task, res, started)

	if dbErr := s.store.MarkClientCertificateRevoked(ctx, serverID, name); dbErr != nil {
		s.log.ErrorContext(ctx, "failed to mark certificate revoked",
			"server_id", serverID, "client", name, "error", dbErr.Error())
		if res.OK() {
			return fmt.Errorf("failed to mark certificate revoked: %w", dbErr)
		}
	}
	_ = s.bus.PublishClientRevoked(serverID, name)

	if !res.OK() {
		return sharederrors.NewAgentError(agentapi.CommandRevokeClient, task.ID, res.Message, res.Error, nil)
	}
	return nil
}

// ListClients returns the certificate inventory known to the database.
// The monitor keeps these rows converged with the remote PKI index.
func (s *Service) ListClients(ctx context.Context, serverID int64) ([]db.ClientCertificate, error) {
	if _, err := s.getServer(ctx, serverID); err != nil {
		return nil, err
	}
	certs, err := s.store.ListClientCertificates(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list client certificates: %w", err)
	}
	return certs, nil
}

// DisconnectClient kills the client's live session through the management
// interface. Connection rows are left to the reconciler, which observes the
// session disappear on its next pass.
func (s *Service) DisconnectClient(ctx context.Context, serverID int64, name string) error {
	srv, err := s.getServer(ctx, serverID)
	if err != nil {
		return err
	}

	task, err := s.beginTask(ctx, serverID, agentapi.CommandDisconnectClient)
	if err != nil {
		return err
	}

	started := time.Now()
	res := s.invokeAgent(ctx, srv, task.ID, agentapi.CommandDisconnectClient, func(ctx context.Context, creds ssh.Credentials) *agentapi.Result {
		return s.agent.DisconnectClient(ctx, creds, task.ID, name)
	})
	s.finishTask(ctx, task, res, started)

	if !res.OK() {
		return sharederrors.NewAgentError(agentapi.CommandDisconnectClient, task.ID, res.Message, res.Error, nil)
	}
	return nil
}

// requireConfigured rejects client operations on servers whose PKI does not
// exist yet.
func (s *Service) requireConfigured(srv db.Server) error {
	switch server.Status(srv.Status) {
	case server.StatusInstalled, server.StatusRunning, server.StatusStopped:
		return nil
	default:
		return fmt.Errorf("server %d is %s: %w", srv.ID, srv.Status, sharederrors.ErrPKINotInitialized)
	}
}
