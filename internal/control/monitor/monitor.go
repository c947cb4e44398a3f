// Package monitor runs the reconciliation loops that keep the database in
// sync with the observed state of managed servers: daemon liveness, live
// VPN sessions and the certificate inventory. The remote side is the
// source of truth; the database converges toward it.
package monitor

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/db"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/events"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/provisioning"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/remote"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/server"
	"github.com/IvanDubrovin-std/ovpn-control/internal/control/ssh"
	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/logger"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// AgentQuerier is the read-only slice of the agent surface the monitor
// needs. Implemented by remote.AgentClient.
type AgentQuerier interface {
	GetStatus(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result
	ListClients(ctx context.Context, creds ssh.Credentials, taskID string) *agentapi.Result
}

// Config holds the reconciliation intervals.
type Config struct {
	StatusInterval     time.Duration
	ConnectionInterval time.Duration
}

// Monitor polls managed servers and reconciles the database.
type Monitor struct {
	store db.Store
	agent AgentQuerier
	bus   *events.Bus
	cfg   Config
	log   *logger.Logger
}

// New creates a monitor.
func New(store db.Store, agent AgentQuerier, bus *events.Bus, cfg Config, log *logger.Logger) *Monitor {
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = time.Minute
	}
	if cfg.ConnectionInterval == 0 {
		cfg.ConnectionInterval = 10 * time.Second
	}
	return &Monitor{
		store: store,
		agent: agent,
		bus:   bus,
		cfg:   cfg,
		log:   log.WithComponent("monitor"),
	}
}

// Run drives both reconciliation loops until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.InfoContext(ctx, "monitor started",
		"status_interval", m.cfg.StatusInterval,
		"connection_interval", m.cfg.ConnectionInterval)

	statusTicker := time.NewTicker(m.cfg.StatusInterval)
	connTicker := time.NewTicker(m.cfg.ConnectionInterval)
	defer statusTicker.Stop()
	defer connTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.InfoContext(ctx, "monitor stopped")
			return
		case <-statusTicker.C:
			m.StatusPass(ctx)
		case <-connTicker.C:
			m.ConnectionPass(ctx)
		}
	}
}

// monitorableServers lists servers whose daemon state is worth polling.
// Servers mid-provisioning are skipped so the reconciler never fights a
// running operation.
func (m *Monitor) monitorableServers(ctx context.Context) []db.Server {
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		m.log.ErrorContext(ctx, "failed to list servers", "error", err.Error())
		return nil
	}
	out := servers[:0]
	for _, srv := range servers {
		if server.Status(srv.Status).IsMonitorable() {
			out = append(out, srv)
		}
	}
	return out
}

// StatusPass polls every monitorable server once and reconciles its daemon
// status and certificate inventory.
func (m *Monitor) StatusPass(ctx context.Context) {
	for _, srv := range m.monitorableServers(ctx) {
		if ctx.Err() != nil {
			return
		}
		m.reconcileStatus(ctx, srv)
		m.reconcileClients(ctx, srv)
	}
}

// ConnectionPass polls every monitorable server once and reconciles its
// live session table.
func (m *Monitor) ConnectionPass(ctx context.Context) {
	for _, srv := range m.monitorableServers(ctx) {
		if ctx.Err() != nil {
			return
		}
		if server.Status(srv.Status) != server.StatusRunning {
			continue
		}
		res := m.agent.GetStatus(ctx, provisioning.Credentials(srv), uuid.NewString())
		if !res.OK() {
			m.log.WarnContext(ctx, "connection poll failed",
				"server_id", srv.ID, "error", res.Error)
			continue
		}
		status, err := remote.ParseStatus(res)
		if err != nil {
			m.log.WarnContext(ctx, "malformed status payload",
				"server_id", srv.ID, "error", err.Error())
			continue
		}
		m.reconcileConnections(ctx, srv, status.Connections)
	}
}

// reconcileStatus maps the observed daemon state onto the server row.
func (m *Monitor) reconcileStatus(ctx context.Context, srv db.Server) {
	res := m.agent.GetStatus(ctx, provisioning.Credentials(srv), uuid.NewString())

	observed := server.StatusError
	if res.OK() {
		status, err := remote.ParseStatus(res)
		if err != nil {
			m.log.WarnContext(ctx, "malformed status payload",
				"server_id", srv.ID, "error", err.Error())
			return
		}
		if status.IsRunning {
			observed = server.StatusRunning
		} else {
			observed = server.StatusStopped
		}
	} else {
		m.log.WarnContext(ctx, "status check failed",
			"server_id", srv.ID, "error", res.Error)
	}

	// An installed server that has never been started stays installed
	// until something actually runs it.
	if srv.Status == server.StatusInstalled.String() && observed == server.StatusStopped {
		observed = server.StatusInstalled
	}

	if err := m.store.TouchServerLastChecked(ctx, srv.ID, observed.String()); err != nil {
		m.log.ErrorContext(ctx, "failed to record server status",
			"server_id", srv.ID, "error", err.Error())
		return
	}
	if srv.Status != observed.String() {
		_ = m.bus.PublishServerStatusChanged(srv.ID, srv.Status, observed.String(), "observed by monitor")
		m.log.InfoContext(ctx, "server status changed",
			"server_id", srv.ID, "from", srv.Status, "to", observed)
	}
}

// reconcileConnections diffs the observed session list against the stored
// one and applies the difference. Sessions for names without a certificate
// row are logged and skipped; deletion removes only rows whose session is
// gone.
func (m *Monitor) reconcileConnections(ctx context.Context, srv db.Server, conns []agentapi.Connection) {
	keep := make([]string, 0, len(conns))
	for _, conn := range conns {
		if _, err := m.store.GetClientCertificate(ctx, srv.ID, conn.CommonName); err != nil {
			if err == sql.ErrNoRows {
				m.log.WarnContext(ctx, "session for unknown client",
					"server_id", srv.ID, "client", conn.CommonName)
				continue
			}
			m.log.ErrorContext(ctx, "failed to look up client",
				"server_id", srv.ID, "client", conn.CommonName, "error", err.Error())
			continue
		}

		err := m.store.UpsertVPNConnection(ctx, db.UpsertVPNConnectionParams{
			ServerID:       srv.ID,
			ClientName:     conn.CommonName,
			RealAddress:    conn.RealAddress,
			VirtualAddress: conn.VirtualAddress,
			BytesReceived:  conn.BytesReceived,
			BytesSent:      conn.BytesSent,
			ConnectedAt:    sql.NullTime{Time: conn.ConnectedSince, Valid: !conn.ConnectedSince.IsZero()},
		})
		if err != nil {
			m.log.ErrorContext(ctx, "failed to upsert connection",
				"server_id", srv.ID, "client", conn.CommonName, "error", err.Error())
			continue
		}
		keep = append(keep, conn.CommonName)
	}

	if err := m.store.DeleteVPNConnectionsExcept(ctx, srv.ID, keep); err != nil {
		m.log.ErrorContext(ctx, "failed to prune stale connections",
			"server_id", srv.ID, "error", err.Error())
	}
}

// reconcileClients converges certificate rows toward the remote PKI index.
// The remote index wins: certificates it reports revoked are marked
// revoked, and rows for names it no longer knows are removed.
func (m *Monitor) reconcileClients(ctx context.Context, srv db.Server) {
	res := m.agent.ListClients(ctx, provisioning.Credentials(srv), uuid.NewString())
	if !res.OK() {
		m.log.WarnContext(ctx, "client inventory poll failed",
			"server_id", srv.ID, "error", res.Error)
		return
	}
	list, err := remote.ParseClientList(res)
	if err != nil {
		m.log.WarnContext(ctx, "malformed client list payload",
			"server_id", srv.ID, "error", err.Error())
		return
	}

	remoteByName := make(map[string]agentapi.ClientInfo, len(list.Clients))
	for _, info := range list.Clients {
		remoteByName[info.Name] = info
	}

	stored, err := m.store.ListClientCertificates(ctx, srv.ID)
	if err != nil {
		m.log.ErrorContext(ctx, "failed to list stored certificates",
			"server_id", srv.ID, "error", err.Error())
		return
	}

	for _, cert := range stored {
		info, ok := remoteByName[cert.Name]
		if !ok {
			if err := m.store.DeleteClientCertificate(ctx, srv.ID, cert.Name); err != nil {
				m.log.ErrorContext(ctx, "failed to delete orphaned certificate",
					"server_id", srv.ID, "client", cert.Name, "error", err.Error())
			} else {
				m.log.InfoContext(ctx, "removed certificate missing from server",
					"server_id", srv.ID, "client", cert.Name)
			}
			continue
		}
		if info.Status == server.ClientRevoked && cert.Status != server.ClientRevoked {
			if err := m.store.MarkClientCertificateRevoked(ctx, srv.ID, cert.Name); err != nil {
				m.log.ErrorContext(ctx, "failed to mark certificate revoked",
					"server_id", srv.ID, "client", cert.Name, "error", err.Error())
			} else {
				m.log.InfoContext(ctx, "certificate revoked on server",
					"server_id", srv.ID, "client", cert.Name)
				_ = m.bus.PublishClientRevoked(srv.ID, cert.Name)
			}
		}
	}
}
