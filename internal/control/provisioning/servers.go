package provisioning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IvanDubrovin-std/ovpn-control/internal/control/db"
	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// RegisterServerParams is the caller-facing registration input. Zero-valued
// VPN fields fall back to the agent defaults.
type RegisterServerParams struct {
	Name          string
	Host          string
	SSHPort       int
	SSHUser       string
	SSHPassword   string
	SSHPrivateKey string

	VPNPort          int
	Protocol         string
	Subnet           string
	Netmask          string
	DNSServers       []string
	Cipher           string
	Auth             string
	KeepalivePing    int
	KeepaliveTimeout int
	MaxClients       int
	UseStunnel       bool
	StunnelPort      int
}

// RegisterServer records a new managed host. Registration touches only the
// database; the host itself is untouched until install runs.
func (s *Service) RegisterServer(ctx context.Context, params RegisterServerParams) (db.Server, error) {
	if params.Name == "" || params.Host == "" || params.SSHUser == "" {
		return db.Server{}, fmt.Errorf("name, host and ssh user are required")
	}
	if params.SSHPassword == "" && params.SSHPrivateKey == "" {
		return db.Server{}, fmt.Errorf("either an ssh password or a private key is required")
	}
	if params.SSHPort == 0 {
		params.SSHPort = 22
	}

	def := agentapi.DefaultConfig()
	if params.VPNPort == 0 {
		params.VPNPort = def.Port
	}
	if params.Protocol == "" {
		params.Protocol = def.Protocol
	}
	if params.Subnet == "" {
		params.Subnet = def.Subnet
	}
	if params.Netmask == "" {
		params.Netmask = def.Netmask
	}
	if len(params.DNSServers) == 0 {
		params.DNSServers = def.DNSServers
	}
	if params.Cipher == "" {
		params.Cipher = def.Cipher
	}
	if params.Auth == "" {
		params.Auth = def.Auth
	}
	if params.KeepalivePing == 0 {
		params.KeepalivePing = def.KeepalivePing
	}
	if params.KeepaliveTimeout == 0 {
		params.KeepaliveTimeout = def.KeepaliveTimeout
	}
	if params.StunnelPort == 0 {
		params.StunnelPort = def.StunnelPort
	}

	cfg := AgentConfigFromParams(params)
	if err := cfg.Validate(); err != nil {
		return db.Server{}, fmt.Errorf("invalid vpn settings: %w", err)
	}

	dns, err := json.Marshal(params.DNSServers)
	if err != nil {
		return db.Server{}, fmt.Errorf("failed to encode dns servers: %w", err)
	}

	srv, err := s.store.CreateServer(ctx, db.CreateServerParams{
		Name:             params.Name,
		Host:             params.Host,
		SSHPort:          int64(params.SSHPort),
		SSHUser:          params.SSHUser,
		SSHPassword:      params.SSHPassword,
		SSHPrivateKey:    params.SSHPrivateKey,
		VPNPort:          int64(params.VPNPort),
		Protocol:         params.Protocol,
		Subnet:           params.Subnet,
		Netmask:          params.Netmask,
		DNSServers:       string(dns),
		Cipher:           params.Cipher,
		Auth:             params.Auth,
		KeepalivePing:    int64(params.KeepalivePing),
		KeepaliveTimeout: int64(params.KeepaliveTimeout),
		MaxClients:       int64(params.MaxClients),
		UseStunnel:       params.UseStunnel,
		StunnelPort:      int64(params.StunnelPort),
	})
	if err != nil {
		return db.Server{}, fmt.Errorf("failed to register server: %w", err)
	}

	_ = s.bus.PublishServerRegistered(srv.ID, srv.Name, srv.Host)
	s.log.InfoContext(ctx, "server registered", "server_id", srv.ID, "name", srv.Name, "host", srv.Host)
	return srv, nil
}

// AgentConfigFromParams builds the agent configuration from registration
// input, after defaults have been applied.
func AgentConfigFromParams(params RegisterServerParams) *agentapi.Config {
	return &agentapi.Config{
		ServerHost:       params.Host,
		Port:             params.VPNPort,
		Protocol:         params.Protocol,
		Subnet:           params.Subnet,
		Netmask:          params.Netmask,
		DNSServers:       params.DNSServers,
		UseStunnel:       params.UseStunnel,
		StunnelPort:      params.StunnelPort,
		Cipher:           params.Cipher,
		Auth:             params.Auth,
		KeepalivePing:    params.KeepalivePing,
		KeepaliveTimeout: params.KeepaliveTimeout,
		MaxClients:       params.MaxClients,
	}
}
