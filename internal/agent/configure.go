package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// configFileName is where the last applied server configuration is
// persisted so later commands (create-client in particular) can rebuild
// client profiles without being handed the full config again.
const configFileName = "agent.json"

// pkiSteps bootstraps a fresh easy-rsa PKI in the workspace. The CA uses an
// EC key; the DH parameters are still generated because older clients
// negotiate TLS with them.
func (a *Agent) pkiSteps() []Step {
	ws := a.workspace
	easyrsa := fmt.Sprintf("cd %s && EASYRSA_BATCH=1", ws)
	return []Step{
		{
			Desc:     "Creating easy-rsa workspace",
			Cmd:      fmt.Sprintf("rm -rf %s && make-cadir %s", ws, ws),
			Progress: 5,
		},
		{
			Desc:     "Initializing PKI",
			Cmd:      fmt.Sprintf("%s ./easyrsa init-pki", easyrsa),
			Progress: 10,
		},
		{
			Desc:     "Building certificate authority",
			Cmd:      fmt.Sprintf("%s EASYRSA_ALGO=ec EASYRSA_CURVE=secp384r1 EASYRSA_REQ_CN=ovpn-ca ./easyrsa build-ca nopass", easyrsa),
			Progress: 15,
		},
		{
			Desc:     "Generating server certificate request",
			Cmd:      fmt.Sprintf("%s ./easyrsa gen-req server nopass", easyrsa),
			Progress: 20,
		},
		{
			Desc:     "Signing server certificate",
			Cmd:      fmt.Sprintf("%s ./easyrsa sign-req server server", easyrsa),
			Progress: 25,
		},
	}
}

// keyMaterialSteps generates the remaining server key material. gen-dh can
// take minutes on small hosts.
func (a *Agent) keyMaterialSteps() []Step {
	ws := a.workspace
	return []Step{
		{
			Desc:     "Generating Diffie-Hellman parameters",
			Cmd:      fmt.Sprintf("cd %s && EASYRSA_BATCH=1 ./easyrsa gen-dh", ws),
			Progress: 45,
		},
		{
			Desc:     "Generating tls-crypt key",
			Cmd:      fmt.Sprintf("openvpn --genkey secret %s/pki/tc.key", ws),
			Progress: 55,
		},
		{
			Desc:     "Generating certificate revocation list",
			Cmd:      fmt.Sprintf("cd %s && EASYRSA_BATCH=1 ./easyrsa gen-crl 2>/dev/null", ws),
			Progress: 70,
			Tolerant: true,
		},
	}
}

// installFilesSteps copies the generated material into the server directory.
func (a *Agent) installFilesSteps() []Step {
	ws := a.workspace
	dir := a.serverDir
	return []Step{
		{
			Desc:     "Creating server directory",
			Cmd:      fmt.Sprintf("mkdir -p %s", dir),
			Progress: 75,
		},
		{
			Desc: "Installing certificates and keys",
			Cmd: fmt.Sprintf(
				"cp %s/pki/ca.crt %s/pki/issued/server.crt %s/pki/private/server.key %s/pki/dh.pem %s/pki/tc.key %s/",
				ws, ws, ws, ws, ws, dir),
			Progress: 85,
		},
		{
			// OpenVPN drops privileges to nobody, which must still be
			// able to read the CRL on reload.
			Desc:     "Installing revocation list",
			Cmd:      fmt.Sprintf("cp %s/pki/crl.pem %s/ 2>/dev/null && chmod 644 %s/crl.pem", ws, dir, dir),
			Progress: 89,
			Tolerant: true,
		},
	}
}

// systemSteps enables forwarding, opens firewall ports and (re)starts the
// service. Firewall steps are tolerant because ufw may not be present.
func (a *Agent) systemSteps(cfg *agentapi.Config) []Step {
	steps := []Step{
		{
			Desc:     "Enabling IP forwarding",
			Cmd:      "printf 'net.ipv4.ip_forward=1\\n' > /etc/sysctl.d/99-openvpn.conf && sysctl -w net.ipv4.ip_forward=1 2>/dev/null",
			Progress: 92,
			Tolerant: true,
		},
		{
			Desc:     "Opening firewall port",
			Cmd:      fmt.Sprintf("ufw allow %d/%s 2>/dev/null", cfg.Port, cfg.Protocol),
			Progress: 93,
			Tolerant: true,
		},
	}
	if cfg.UseStunnel {
		steps = append(steps, Step{
			Desc:     "Opening stunnel firewall port",
			Cmd:      fmt.Sprintf("ufw allow %d/tcp 2>/dev/null", cfg.StunnelPort),
			Progress: 94,
			Tolerant: true,
		})
	}
	steps = append(steps, Step{
		Desc:     "Enabling and restarting OpenVPN service",
		Cmd:      fmt.Sprintf("systemctl enable %s && systemctl restart %s", serviceUnit, serviceUnit),
		Progress: 95,
	})
	return steps
}

// Configure bootstraps the PKI and writes the server configuration. Any
// existing PKI in the workspace is replaced.
func (a *Agent) Configure(ctx context.Context, cfg *agentapi.Config, report ProgressFunc) *agentapi.Result {
	if report == nil {
		report = nopProgress
	}

	if cfg == nil {
		return agentapi.Failure("Configuration is required", "no config payload provided", 0)
	}
	if err := cfg.Validate(); err != nil {
		return agentapi.Failure("Invalid configuration", err.Error(), 0)
	}
	if err := a.ensureInstalled(ctx); err != nil {
		return agentapi.Failure("OpenVPN must be installed before configuring", err.Error(), 0)
	}

	sequences := [][]Step{
		a.pkiSteps(),
		a.keyMaterialSteps(),
		a.installFilesSteps(),
	}
	progress := 0
	for _, steps := range sequences {
		p, err := a.runSteps(ctx, steps, report)
		if p > progress {
			progress = p
		}
		if err != nil {
			return agentapi.Failure("Failed to configure OpenVPN", err.Error(), progress)
		}
	}

	if err := a.writeServerConf(cfg); err != nil {
		return agentapi.Failure("Failed to write server configuration", err.Error(), progress)
	}
	progress = 90
	report(progress, "Writing server configuration")

	p, err := a.runSteps(ctx, a.systemSteps(cfg), report)
	if p > progress {
		progress = p
	}
	if err != nil {
		return agentapi.Failure("Failed to enable OpenVPN service", err.Error(), progress)
	}

	report(100, "Configuration complete")
	return agentapi.Success("OpenVPN configured successfully", "")
}

// writeServerConf renders server.conf and persists the applied config for
// later commands.
func (a *Agent) writeServerConf(cfg *agentapi.Config) error {
	if err := os.MkdirAll(a.serverDir, 0o755); err != nil {
		return fmt.Errorf("failed to create server directory: %w", err)
	}

	conf := renderServerConf(cfg, a.serverDir)
	if err := os.WriteFile(a.serverPath("server.conf"), []byte(conf), 0o644); err != nil {
		return fmt.Errorf("failed to write server.conf: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal applied config: %w", err)
	}
	if err := os.WriteFile(a.serverPath(configFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to persist applied config: %w", err)
	}
	return nil
}

// loadAppliedConfig reads the configuration persisted by the last
// successful configure run.
func (a *Agent) loadAppliedConfig() (*agentapi.Config, error) {
	data, err := os.ReadFile(a.serverPath(configFileName))
	if err != nil {
		return nil, fmt.Errorf("server is not configured: %w", err)
	}
	var cfg agentapi.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse applied config: %w", err)
	}
	return &cfg, nil
}

// renderServerConf builds the OpenVPN server configuration file. The
// management interface is always bound to localhost so get-status and
// disconnect-client can reach it without exposing it externally.
func renderServerConf(cfg *agentapi.Config, serverDir string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "port %d\n", cfg.Port)
	fmt.Fprintf(&b, "proto %s\n", cfg.Protocol)
	if cfg.UseStunnel {
		// stunnel terminates the outer TLS connection locally.
		b.WriteString("local 127.0.0.1\n")
	}
	b.WriteString("dev tun\n")
	fmt.Fprintf(&b, "ca %s/ca.crt\n", serverDir)
	fmt.Fprintf(&b, "cert %s/server.crt\n", serverDir)
	fmt.Fprintf(&b, "key %s/server.key\n", serverDir)
	fmt.Fprintf(&b, "dh %s/dh.pem\n", serverDir)
	fmt.Fprintf(&b, "tls-crypt %s/tc.key\n", serverDir)
	fmt.Fprintf(&b, "crl-verify %s/crl.pem\n", serverDir)
	b.WriteString("topology subnet\n")
	fmt.Fprintf(&b, "server %s %s\n", cfg.Subnet, cfg.Netmask)
	b.WriteString("ifconfig-pool-persist /var/log/openvpn/ipp.txt\n")
	b.WriteString("push \"redirect-gateway def1 bypass-dhcp\"\n")
	for _, dns := range cfg.DNSServers {
		fmt.Fprintf(&b, "push \"dhcp-option DNS %s\"\n", dns)
	}
	fmt.Fprintf(&b, "keepalive %d %d\n", cfg.KeepalivePing, cfg.KeepaliveTimeout)
	fmt.Fprintf(&b, "cipher %s\n", cfg.Cipher)
	fmt.Fprintf(&b, "auth %s\n", cfg.Auth)
	if cfg.MaxClients > 0 {
		fmt.Fprintf(&b, "max-clients %d\n", cfg.MaxClients)
	}
	b.WriteString("user nobody\n")
	b.WriteString("group nogroup\n")
	b.WriteString("persist-key\n")
	b.WriteString("persist-tun\n")
	b.WriteString("status /var/log/openvpn/openvpn-status.log\n")
	b.WriteString("verb 3\n")
	b.WriteString("management 127.0.0.1 7505\n")
	if cfg.Protocol == "udp" {
		b.WriteString("explicit-exit-notify 1\n")
	}

	return b.String()
}
