package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// indexEntry is one row of the easy-rsa certificate index.
type indexEntry struct {
	Name      string
	Status    string // "active" or "revoked"
	ExpiresAt *time.Time
}

// readIndex parses pki/index.txt. A missing index means the PKI has not
// been initialized yet, which callers treat as an empty certificate set.
func (a *Agent) readIndex() ([]indexEntry, bool, error) {
	data, err := os.ReadFile(a.pkiPath("index.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read certificate index: %w", err)
	}
	return parseIndex(string(data)), true, nil
}

// parseIndex parses the OpenSSL index database format used by easy-rsa.
// Fields are tab separated: status, expiry, revocation date, serial,
// filename, subject DN.
func parseIndex(data string) []indexEntry {
	var entries []indexEntry
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 6 {
			continue
		}

		var status string
		switch fields[0] {
		case "V":
			status = "active"
		case "R":
			status = "revoked"
		default:
			continue
		}

		name := commonNameFromSubject(fields[5])
		if name == "" || name == "server" || strings.HasSuffix(name, "-ca") {
			continue
		}

		entry := indexEntry{Name: name, Status: status}
		if t, err := parseIndexTime(fields[1]); err == nil {
			entry.ExpiresAt = &t
		}
		entries = append(entries, entry)
	}
	return entries
}

// commonNameFromSubject extracts the CN component from a subject DN like
// "/CN=alice" or "/C=US/CN=alice".
func commonNameFromSubject(subject string) string {
	for _, part := range strings.Split(subject, "/") {
		if strings.HasPrefix(part, "CN=") {
			return strings.TrimPrefix(part, "CN=")
		}
	}
	return ""
}

// parseIndexTime parses the ASN.1 UTCTime format (YYMMDDHHMMSSZ) used in
// the index.
func parseIndexTime(s string) (time.Time, error) {
	return time.Parse("060102150405Z", s)
}

// findActive returns the active index entry for a client name, if any.
func findActive(entries []indexEntry, name string) *indexEntry {
	for i := range entries {
		if entries[i].Name == name && entries[i].Status == "active" {
			return &entries[i]
		}
	}
	return nil
}

// ListClients reports every issued client certificate. Before the PKI is
// initialized it succeeds with an empty list.
func (a *Agent) ListClients(ctx context.Context) *agentapi.Result {
	entries, _, err := a.readIndex()
	if err != nil {
		return agentapi.Failure("Failed to list clients", err.Error(), 0)
	}

	list := agentapi.ClientList{Clients: make([]agentapi.ClientInfo, 0, len(entries))}
	for _, e := range entries {
		list.Clients = append(list.Clients, agentapi.ClientInfo{
			Name:      e.Name,
			Status:    e.Status,
			ExpiresAt: e.ExpiresAt,
		})
	}

	output, err := json.Marshal(list)
	if err != nil {
		return agentapi.Failure("Failed to encode client list", err.Error(), 0)
	}
	return agentapi.Success(fmt.Sprintf("Found %d clients", len(list.Clients)), string(output))
}

// CreateClient issues a certificate for a new client and returns a
// single-file .ovpn profile with inline key material.
func (a *Agent) CreateClient(ctx context.Context, name string, report ProgressFunc) *agentapi.Result {
	if report == nil {
		report = nopProgress
	}

	if err := agentapi.ValidateClientName(name); err != nil {
		return agentapi.Failure("Invalid client name", err.Error(), 0)
	}

	cfg, err := a.loadAppliedConfig()
	if err != nil {
		return agentapi.Failure("Server must be configured before creating clients", err.Error(), 0)
	}

	entries, pkiReady, err := a.readIndex()
	if err != nil {
		return agentapi.Failure("Failed to read certificate index", err.Error(), 0)
	}
	if !pkiReady {
		return agentapi.Failure("Server must be configured before creating clients", "pki not initialized", 0)
	}
	if findActive(entries, name) != nil {
		return agentapi.Failure(fmt.Sprintf("Client %q already exists", name), "duplicate client name", 0)
	}
	report(10, "Validated client name")

	steps := []Step{
		{
			Desc:     "Issuing client certificate",
			Cmd:      fmt.Sprintf("cd %s && EASYRSA_BATCH=1 ./easyrsa build-client-full %s nopass", a.workspace, name),
			Progress: 60,
		},
	}
	progress, err := a.runSteps(ctx, steps, report)
	if err != nil {
		return agentapi.Failure("Failed to issue client certificate", err.Error(), progress)
	}

	bundle, err := a.buildClientBundle(ctx, cfg, name)
	if err != nil {
		return agentapi.Failure("Failed to build client profile", err.Error(), progress)
	}
	report(90, "Built client profile")

	output, err := json.Marshal(agentapi.ClientBundle{Name: name, Bundle: bundle})
	if err != nil {
		return agentapi.Failure("Failed to encode client profile", err.Error(), progress)
	}
	return agentapi.Success(fmt.Sprintf("Client %q created", name), string(output))
}

// RevokeClient revokes an issued certificate and refreshes the CRL.
func (a *Agent) RevokeClient(ctx context.Context, name string, report ProgressFunc) *agentapi.Result {
	if report == nil {
		report = nopProgress
	}

	if err := agentapi.ValidateClientName(name); err != nil {
		return agentapi.Failure("Invalid client name", err.Error(), 0)
	}

	entries, pkiReady, err := a.readIndex()
	if err != nil {
		return agentapi.Failure("Failed to read certificate index", err.Error(), 0)
	}
	if !pkiReady || findActive(entries, name) == nil {
		return agentapi.Failure(fmt.Sprintf("Client %q not found", name), "no active certificate for this name", 0)
	}

	ws := a.workspace
	steps := []Step{
		{
			Desc:     "Revoking client certificate",
			Cmd:      fmt.Sprintf("cd %s && EASYRSA_BATCH=1 ./easyrsa revoke %s", ws, name),
			Progress: 40,
		},
		{
			Desc:     "Regenerating revocation list",
			Cmd:      fmt.Sprintf("cd %s && EASYRSA_BATCH=1 ./easyrsa gen-crl", ws),
			Progress: 70,
		},
		{
			Desc:     "Installing revocation list",
			Cmd:      fmt.Sprintf("cp %s/pki/crl.pem %s/ && chmod 644 %s/crl.pem", ws, a.serverDir, a.serverDir),
			Progress: 85,
		},
		{
			Desc:     "Reloading OpenVPN service",
			Cmd:      fmt.Sprintf("systemctl reload-or-restart %s 2>/dev/null", serviceUnit),
			Progress: 95,
			Tolerant: true,
		},
	}
	progress, err := a.runSteps(ctx, steps, report)
	if err != nil {
		return agentapi.Failure("Failed to revoke client certificate", err.Error(), progress)
	}

	return agentapi.Success(fmt.Sprintf("Client %q revoked", name), "")
}

// buildClientBundle assembles the .ovpn profile. The remote endpoint is
// the address the orchestrator registered the server under, falling back
// to the host's primary address; behind stunnel clients connect to the
// stunnel port over TCP instead of the OpenVPN port directly.
func (a *Agent) buildClientBundle(ctx context.Context, cfg *agentapi.Config, name string) (string, error) {
	host := cfg.ServerHost
	if host == "" {
		detected, err := a.detectPublicAddress(ctx)
		if err != nil {
			return "", err
		}
		host = detected
	}

	ca, err := os.ReadFile(a.pkiPath("ca.crt"))
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	cert, err := os.ReadFile(a.pkiPath("issued", name+".crt"))
	if err != nil {
		return "", fmt.Errorf("failed to read client certificate: %w", err)
	}
	key, err := os.ReadFile(a.pkiPath("private", name+".key"))
	if err != nil {
		return "", fmt.Errorf("failed to read client key: %w", err)
	}
	tc, err := os.ReadFile(a.pkiPath("tc.key"))
	if err != nil {
		return "", fmt.Errorf("failed to read tls-crypt key: %w", err)
	}

	port := cfg.Port
	proto := cfg.Protocol
	if cfg.UseStunnel {
		port = cfg.StunnelPort
		proto = "tcp"
	}

	var b strings.Builder
	b.WriteString("client\n")
	b.WriteString("dev tun\n")
	fmt.Fprintf(&b, "proto %s\n", proto)
	fmt.Fprintf(&b, "remote %s %d\n", host, port)
	b.WriteString("resolv-retry infinite\n")
	b.WriteString("nobind\n")
	b.WriteString("persist-key\n")
	b.WriteString("persist-tun\n")
	b.WriteString("remote-cert-tls server\n")
	fmt.Fprintf(&b, "cipher %s\n", cfg.Cipher)
	fmt.Fprintf(&b, "auth %s\n", cfg.Auth)
	b.WriteString("verb 3\n")
	writeInline(&b, "ca", extractPEM(string(ca)))
	writeInline(&b, "cert", extractPEM(string(cert)))
	writeInline(&b, "key", extractPEM(string(key)))
	writeInline(&b, "tls-crypt", strings.TrimSpace(string(tc)))

	return b.String(), nil
}

// detectPublicAddress returns the host's primary address for client
// profiles.
func (a *Agent) detectPublicAddress(ctx context.Context) (string, error) {
	res, err := a.runner.Run(ctx, "hostname -I | awk '{print $1}'")
	if err != nil {
		return "", fmt.Errorf("failed to detect host address: %w", err)
	}
	addr := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 || addr == "" {
		return "", fmt.Errorf("failed to detect host address: %s", res.Stderr)
	}
	return addr, nil
}

// extractPEM strips the human-readable preamble easy-rsa puts before the
// PEM block in issued certificates.
func extractPEM(data string) string {
	start := strings.Index(data, "-----BEGIN")
	if start < 0 {
		return strings.TrimSpace(data)
	}
	return strings.TrimSpace(data[start:])
}

func writeInline(b *strings.Builder, tag, content string) {
	fmt.Fprintf(b, "<%s>\n%s\n</%s>\n", tag, content, tag)
}
