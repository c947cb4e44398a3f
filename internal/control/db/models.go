package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Server is one managed OpenVPN host.
type Server struct {
	ID               int64
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
	DNSServers       string // JSON array
	Cipher           string
	Auth             string
	KeepalivePing    int64
	KeepaliveTimeout int64
	MaxClients       int64
	UseStunnel       bool
	StunnelPort      int64
	Status           string
	LastChecked      sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DNSServerList decodes the JSON-encoded DNS server column.
func (s *Server) DNSServerList() []string {
	var servers []string
	if err := json.Unmarshal([]byte(s.DNSServers), &servers); err != nil || len(servers) == 0 {
		return []string{"8.8.8.8", "8.8.4.4"}
	}
	return servers
}

// ClientCertificate is one issued client certificate on a server.
type ClientCertificate struct {
	ID        int64
	ServerID  int64
	Name      string
	Status    string
	Bundle    string
	IssuedAt  time.Time
	ExpiresAt sql.NullTime
	RevokedAt sql.NullTime
}

// VPNConnection mirrors one live session reported by a server.
type VPNConnection struct {
	ID             int64
	ServerID       int64
	ClientName     string
	RealAddress    string
	VirtualAddress string
	BytesReceived  int64
	BytesSent      int64
	ConnectedAt    time.Time
	UpdatedAt      time.Time
}

// ProvisioningTask is the audit record of one orchestrated operation.
type ProvisioningTask struct {
	ID         string
	ServerID   int64
	Command    string
	Status     string
	Progress   int64
	Message    string
	Output     string
	Error      string
	CreatedAt  time.Time
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
}
