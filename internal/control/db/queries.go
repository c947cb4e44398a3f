package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DBTX is the minimal database handle Queries runs on, satisfied by both
// *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds all database access methods.
type Queries struct {
	db DBTX
}

// New creates a Queries instance on the given handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Querier defines all query methods, so Store can embed them.
type Querier interface {
	CreateServer(ctx context.Context, arg CreateServerParams) (Server, error)
	GetServer(ctx context.Context, id int64) (Server, error)
	GetServerByName(ctx context.Context, name string) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	UpdateServerStatus(ctx context.Context, id int64, status string) error
	TransitionServerStatus(ctx context.Context, id int64, from, to string) (bool, error)
	TouchServerLastChecked(ctx context.Context, id int64, status string) error
	DeleteServer(ctx context.Context, id int64) error

	CreateClientCertificate(ctx context.Context, arg CreateClientCertificateParams) (ClientCertificate, error)
	GetClientCertificate(ctx context.Context, serverID int64, name string) (ClientCertificate, error)
	ListClientCertificates(ctx context.Context, serverID int64) ([]ClientCertificate, error)
	MarkClientCertificateRevoked(ctx context.Context, serverID int64, name string) error
	MarkAllClientCertificatesRevoked(ctx context.Context, serverID int64) error
	UpdateClientCertificateStatus(ctx context.Context, serverID int64, name, status string) error
	DeleteClientCertificate(ctx context.Context, serverID int64, name string) error

	UpsertVPNConnection(ctx context.Context, arg UpsertVPNConnectionParams) error
	ListVPNConnections(ctx context.Context, serverID int64) ([]VPNConnection, error)
	DeleteVPNConnectionsExcept(ctx context.Context, serverID int64, keep []string) error

	CreateTask(ctx context.Context, arg CreateTaskParams) (ProvisioningTask, error)
	GetTask(ctx context.Context, id string) (ProvisioningTask, error)
	MarkTaskRunning(ctx context.Context, id string) error
	UpdateTaskProgress(ctx context.Context, id string, progress int64, message string) error
	CompleteTask(ctx context.Context, id string, message, output string) error
	FailTask(ctx context.Context, id string, message, output, errDetail string) error
	ListTasksByServer(ctx context.Context, serverID int64) ([]ProvisioningTask, error)
}

var _ Querier = (*Queries)(nil)

// --- servers ---

const serverColumns = `id, name, host, ssh_port, ssh_user, ssh_password, ssh_private_key,
	vpn_port, protocol, subnet, netmask, dns_servers, cipher, auth,
	keepalive_ping, keepalive_timeout, max_clients, use_stunnel, stunnel_port,
	status, last_checked, created_at, updated_at`

// CreateServerParams holds the fields for registering a server.
type CreateServerParams struct {
	Name             string
	Host             string
	SSHPort          int64
	SSHUser          string
	SSHPassword      string
	SSHPrivateKey    string
	VPNPort          int64
	Protocol         string
	Subnet           string
	Netmask          string
	DNSServers       string
	Cipher           string
	Auth             string
	KeepalivePing    int64
	KeepaliveTimeout int64
	MaxClients       int64
	UseStunnel       bool
	StunnelPort      int64
}

func (q *Queries) CreateServer(ctx context.Context, arg CreateServerParams) (Server, error) {
	query := `INSERT INTO servers (
		name, host, ssh_port, ssh_user, ssh_password, ssh_private_key,
		vpn_port, protocol, subnet, netmask, dns_servers, cipher, auth,
		keepalive_ping, keepalive_timeout, max_clients, use_stunnel, stunnel_port
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING ` + serverColumns
	row := q.db.QueryRowContext(ctx, query,
		arg.Name, arg.Host, arg.SSHPort, arg.SSHUser, arg.SSHPassword, arg.SSHPrivateKey,
		arg.VPNPort, arg.Protocol, arg.Subnet, arg.Netmask, arg.DNSServers, arg.Cipher, arg.Auth,
		arg.KeepalivePing, arg.KeepaliveTimeout, arg.MaxClients, arg.UseStunnel, arg.StunnelPort,
	)
	return scanServer(row)
}

func (q *Queries) GetServer(ctx context.Context, id int64) (Server, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return scanServer(row)
}

func (q *Queries) GetServerByName(ctx context.Context, name string) (Server, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	return scanServer(row)
}

func (q *Queries) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		s, err := scanServerRows(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

func (q *Queries) UpdateServerStatus(ctx context.Context, id int64, status string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE servers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	return err
}

// TransitionServerStatus performs a compare-and-swap status update. It
// returns false when the server was not in the expected status, which is
// how concurrent provisioning attempts lose the race.
func (q *Queries) TransitionServerStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE servers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		to, id, from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (q *Queries) TouchServerLastChecked(ctx context.Context, id int64, status string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE servers SET status = ?, last_checked = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	return err
}

func (q *Queries) DeleteServer(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	return err
}

func scanServer(row *sql.Row) (Server, error) {
	var s Server
	err := row.Scan(
		&s.ID, &s.Name, &s.Host, &s.SSHPort, &s.SSHUser, &s.SSHPassword, &s.SSHPrivateKey,
		&s.VPNPort, &s.Protocol, &s.Subnet, &s.Netmask, &s.DNSServers, &s.Cipher, &s.Auth,
		&s.KeepalivePing, &s.KeepaliveTimeout, &s.MaxClients, &s.UseStunnel, &s.StunnelPort,
		&s.Status, &s.LastChecked, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func scanServerRows(rows *sql.Rows) (Server, error) {
	var s Server
	err := rows.Scan(
		&s.ID, &s.Name, &s.Host, &s.SSHPort, &s.SSHUser, &s.SSHPassword, &s.SSHPrivateKey,
		&s.VPNPort, &s.Protocol, &s.Subnet, &s.Netmask, &s.DNSServers, &s.Cipher, &s.Auth,
		&s.KeepalivePing, &s.KeepaliveTimeout, &s.MaxClients, &s.UseStunnel, &s.StunnelPort,
		&s.Status, &s.LastChecked, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// --- client certificates ---

const clientColumns = `id, server_id, name, status, bundle, issued_at, expires_at, revoked_at`

// CreateClientCertificateParams holds the fields for recording an issued
// certificate.
type CreateClientCertificateParams struct {
	ServerID  int64
	Name      string
	Bundle    string
	ExpiresAt sql.NullTime
}

func (q *Queries) CreateClientCertificate(ctx context.Context, arg CreateClientCertificateParams) (ClientCertificate, error) {
	row := q.db.QueryRowContext(ctx,
		`INSERT INTO client_certificates (server_id, name, bundle, expires_at)
		 VALUES (?, ?, ?, ?) RETURNING `+clientColumns,
		arg.ServerID, arg.Name, arg.Bundle, arg.ExpiresAt)
	return scanClientCertificate(row)
}

func (q *Queries) GetClientCertificate(ctx context.Context, serverID int64, name string) (ClientCertificate, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM client_certificates WHERE server_id = ? AND name = ?`,
		serverID, name)
	return scanClientCertificate(row)
}

func (q *Queries) ListClientCertificates(ctx context.Context, serverID int64) ([]ClientCertificate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM client_certificates WHERE server_id = ? ORDER BY id`,
		serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []ClientCertificate
	for rows.Next() {
		var c ClientCertificate
		if err := rows.Scan(&c.ID, &c.ServerID, &c.Name, &c.Status, &c.Bundle, &c.IssuedAt, &c.ExpiresAt, &c.RevokedAt); err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

// MarkClientCertificateRevoked revokes a certificate row. Revocation is
// monotonic: an already revoked row keeps its original revoked_at.
func (q *Queries) MarkClientCertificateRevoked(ctx context.Context, serverID int64, name string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE client_certificates SET status = 'revoked', revoked_at = CURRENT_TIMESTAMP
		 WHERE server_id = ? AND name = ? AND status != 'revoked'`,
		serverID, name)
	return err
}

func (q *Queries) MarkAllClientCertificatesRevoked(ctx context.Context, serverID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE client_certificates SET status = 'revoked', revoked_at = CURRENT_TIMESTAMP
		 WHERE server_id = ? AND status != 'revoked'`,
		serverID)
	return err
}

func (q *Queries) UpdateClientCertificateStatus(ctx context.Context, serverID int64, name, status string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE client_certificates SET status = ? WHERE server_id = ? AND name = ?`,
		status, serverID, name)
	return err
}

func (q *Queries) DeleteClientCertificate(ctx context.Context, serverID int64, name string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM client_certificates WHERE server_id = ? AND name = ?`,
		serverID, name)
	return err
}

func scanClientCertificate(row *sql.Row) (ClientCertificate, error) {
	var c ClientCertificate
	err := row.Scan(&c.ID, &c.ServerID, &c.Name, &c.Status, &c.Bundle, &c.IssuedAt, &c.ExpiresAt, &c.RevokedAt)
	return c, err
}

// --- vpn connections ---

// UpsertVPNConnectionParams holds one live session observation. On update
// connected_at is preserved so the first-seen time survives refreshes.
type UpsertVPNConnectionParams struct {
	ServerID       int64
	ClientName     string
	RealAddress    string
	VirtualAddress string
	BytesReceived  int64
	BytesSent      int64
	ConnectedAt    sql.NullTime
}

func (q *Queries) UpsertVPNConnection(ctx context.Context, arg UpsertVPNConnectionParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO vpn_connections
			(server_id, client_name, real_address, virtual_address, bytes_received, bytes_sent, connected_at)
		 VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		 ON CONFLICT (server_id, client_name) DO UPDATE SET
			real_address = excluded.real_address,
			virtual_address = excluded.virtual_address,
			bytes_received = excluded.bytes_received,
			bytes_sent = excluded.bytes_sent,
			updated_at = CURRENT_TIMESTAMP`,
		arg.ServerID, arg.ClientName, arg.RealAddress, arg.VirtualAddress,
		arg.BytesReceived, arg.BytesSent, arg.ConnectedAt)
	return err
}

func (q *Queries) ListVPNConnections(ctx context.Context, serverID int64) ([]VPNConnection, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, server_id, client_name, real_address, virtual_address,
			bytes_received, bytes_sent, connected_at, updated_at
		 FROM vpn_connections WHERE server_id = ? ORDER BY id`,
		serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []VPNConnection
	for rows.Next() {
		var c VPNConnection
		if err := rows.Scan(&c.ID, &c.ServerID, &c.ClientName, &c.RealAddress, &c.VirtualAddress,
			&c.BytesReceived, &c.BytesSent, &c.ConnectedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// DeleteVPNConnectionsExcept hard-deletes the rows for sessions that are no
// longer live. An empty keep set clears the server's connections entirely.
func (q *Queries) DeleteVPNConnectionsExcept(ctx context.Context, serverID int64, keep []string) error {
	if len(keep) == 0 {
		_, err := q.db.ExecContext(ctx, `DELETE FROM vpn_connections WHERE server_id = ?`, serverID)
		return err
	}

	placeholders := strings.Repeat("?,", len(keep))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(keep)+1)
	args = append(args, serverID)
	for _, name := range keep {
		args = append(args, name)
	}

	query := fmt.Sprintf(
		`DELETE FROM vpn_connections WHERE server_id = ? AND client_name NOT IN (%s)`,
		placeholders)
	_, err := q.db.ExecContext(ctx, query, args...)
	return err
}

// --- provisioning tasks ---

const taskColumns = `id, server_id, command, status, progress, message, output, error, created_at, started_at, finished_at`

// CreateTaskParams holds the fields for recording a new task.
type CreateTaskParams struct {
	ID       string
	ServerID int64
	Command  string
}

func (q *Queries) CreateTask(ctx context.Context, arg CreateTaskParams) (ProvisioningTask, error) {
	row := q.db.QueryRowContext(ctx,
		`INSERT INTO provisioning_tasks (id, server_id, command) VALUES (?, ?, ?) RETURNING `+taskColumns,
		arg.ID, arg.ServerID, arg.Command)
	return scanTask(row)
}

func (q *Queries) GetTask(ctx context.Context, id string) (ProvisioningTask, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM provisioning_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (q *Queries) MarkTaskRunning(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE provisioning_tasks SET status = 'running', started_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id)
	return err
}

// UpdateTaskProgress advances task progress. MAX keeps progress monotonic
// even when checkpoints arrive out of order.
func (q *Queries) UpdateTaskProgress(ctx context.Context, id string, progress int64, message string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE provisioning_tasks SET progress = MAX(progress, ?), message = ? WHERE id = ?`,
		progress, message, id)
	return err
}

func (q *Queries) CompleteTask(ctx context.Context, id string, message, output string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE provisioning_tasks
		 SET status = 'completed', progress = 100, message = ?, output = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		message, output, id)
	return err
}

func (q *Queries) FailTask(ctx context.Context, id string, message, output, errDetail string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE provisioning_tasks
		 SET status = 'failed', message = ?, output = ?, error = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		message, output, errDetail, id)
	return err
}

func (q *Queries) ListTasksByServer(ctx context.Context, serverID int64) ([]ProvisioningTask, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM provisioning_tasks WHERE server_id = ? ORDER BY created_at DESC`,
		serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []ProvisioningTask
	for rows.Next() {
		var t ProvisioningTask
		if err := rows.Scan(&t.ID, &t.ServerID, &t.Command, &t.Status, &t.Progress,
			&t.Message, &t.Output, &t.Error, &t.CreatedAt, &t.StartedAt, &t.FinishedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row *sql.Row) (ProvisioningTask, error) {
	var t ProvisioningTask
	err := row.Scan(&t.ID, &t.ServerID, &t.Command, &t.Status, &t.Progress,
		&t.Message, &t.Output, &t.Error, &t.CreatedAt, &t.StartedAt, &t.FinishedAt)
	return t, err
}
