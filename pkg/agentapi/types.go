// Package agentapi defines the wire types exchanged between the
// orchestrator and the provisioning agent. The agent prints exactly one
// Result as JSON on stdout per invocation; everything else goes to stderr.
package agentapi

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Agent commands.
const (
	CommandInstall          = "install"
	CommandConfigure        = "configure"
	CommandReinstall        = "reinstall"
	CommandListClients      = "list-clients"
	CommandCreateClient     = "create-client"
	CommandRevokeClient     = "revoke-client"
	CommandGetStatus        = "get-status"
	CommandDisconnectClient = "disconnect-client"
)

// Result is the single task result emitted by the agent on stdout.
type Result struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Progress int    `json:"progress"`
}

// Success creates a successful result with full progress.
func Success(message, output string) *Result {
	return &Result{
		Status:   StatusSuccess,
		Message:  message,
		Output:   output,
		Progress: 100,
	}
}

// Failure creates a failed result pinned at the progress reached so far.
func Failure(message, errDetail string, progress int) *Result {
	return &Result{
		Status:   StatusFailed,
		Message:  message,
		Error:    errDetail,
		Progress: progress,
	}
}

// OK reports whether the result represents a successful task.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// Encode serializes the result to JSON.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult parses an agent stdout payload into a Result.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode agent result: %w", err)
	}
	if r.Status != StatusSuccess && r.Status != StatusFailed {
		return nil, fmt.Errorf("invalid agent result status %q", r.Status)
	}
	return &r, nil
}

// Config is the server configuration payload delivered to the agent for
// configure and reinstall commands.
type Config struct {
	// ServerHost is the endpoint written into generated client profiles.
	// When empty the agent falls back to the host's primary address,
	// which is wrong behind NAT.
	ServerHost       string   `json:"server_host,omitempty"`
	Port             int      `json:"port"`
	Protocol         string   `json:"protocol"`
	Subnet           string   `json:"subnet"`
	Netmask          string   `json:"netmask"`
	DNSServers       []string `json:"dns_servers"`
	UseStunnel       bool     `json:"use_stunnel"`
	StunnelPort      int      `json:"stunnel_port,omitempty"`
	Cipher           string   `json:"cipher"`
	Auth             string   `json:"auth"`
	KeepalivePing    int      `json:"keepalive_ping"`
	KeepaliveTimeout int      `json:"keepalive_timeout"`
	MaxClients       int      `json:"max_clients,omitempty"`
}

// DefaultConfig returns the baseline server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:             1194,
		Protocol:         "udp",
		Subnet:           "10.8.0.0",
		Netmask:          "255.255.255.0",
		DNSServers:       []string{"8.8.8.8", "8.8.4.4"},
		Cipher:           "AES-256-GCM",
		Auth:             "SHA256",
		KeepalivePing:    10,
		KeepaliveTimeout: 120,
		StunnelPort:      443,
	}
}

// Validate checks the configuration for values the agent cannot work with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Protocol != "udp" && c.Protocol != "tcp" {
		return fmt.Errorf("invalid protocol %q", c.Protocol)
	}
	if c.Subnet == "" || c.Netmask == "" {
		return fmt.Errorf("subnet and netmask are required")
	}
	if c.UseStunnel && (c.StunnelPort < 1 || c.StunnelPort > 65535) {
		return fmt.Errorf("invalid stunnel port %d", c.StunnelPort)
	}
	return nil
}

// ClientInfo describes one issued certificate in the PKI index.
type ClientInfo struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"` // active or revoked
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ClientList is the output payload of the list-clients command.
type ClientList struct {
	Clients []ClientInfo `json:"clients"`
}

// ClientBundle is the output payload of the create-client command.
type ClientBundle struct {
	Name   string `json:"name"`
	Bundle string `json:"bundle"` // single-file .ovpn profile with inline key material
}

// Connection describes one live session from the management interface.
type Connection struct {
	CommonName     string    `json:"common_name"`
	RealAddress    string    `json:"real_address"`
	VirtualAddress string    `json:"virtual_address"`
	BytesReceived  int64     `json:"bytes_received"`
	BytesSent      int64     `json:"bytes_sent"`
	ConnectedSince time.Time `json:"connected_since"`
}

// ConnectionStats aggregates the live session set.
type ConnectionStats struct {
	ConnectedClients int   `json:"connected_clients"`
	TotalBytesIn     int64 `json:"total_bytes_in"`
	TotalBytesOut    int64 `json:"total_bytes_out"`
}

// ServerStatus is the output payload of the get-status command.
type ServerStatus struct {
	IsRunning   bool            `json:"is_running"`
	Version     string          `json:"version,omitempty"`
	Connections []Connection    `json:"connections"`
	Stats       ConnectionStats `json:"stats"`
}

var clientNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateClientName checks a client common name against the allowed
// charset. Names become certificate CNs and shell arguments on the remote
// host, so the rule is enforced on both sides of the wire.
func ValidateClientName(name string) error {
	if !clientNameRe.MatchString(name) {
		return fmt.Errorf("invalid client name %q: must match [A-Za-z0-9_-]{1,64}", name)
	}
	return nil
}
