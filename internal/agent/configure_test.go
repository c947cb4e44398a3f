package agent

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

func TestRenderServerConf(t *testing.T) {
	cfg := agentapi.DefaultConfig()
	conf := renderServerConf(cfg, "/etc/openvpn/server")

	for _, want := range []string{
		"port 1194\n",
		"proto udp\n",
		"server 10.8.0.0 255.255.255.0\n",
		"topology subnet\n",
		"push \"redirect-gateway def1 bypass-dhcp\"\n",
		"push \"dhcp-option DNS 8.8.8.8\"\n",
		"push \"dhcp-option DNS 8.8.4.4\"\n",
		"keepalive 10 120\n",
		"cipher AES-256-GCM\n",
		"auth SHA256\n",
		"management 127.0.0.1 7505\n",
		"explicit-exit-notify 1\n",
		"tls-crypt /etc/openvpn/server/tc.key\n",
		"crl-verify /etc/openvpn/server/crl.pem\n",
	} {
		if !strings.Contains(conf, want) {
			t.Errorf("server.conf missing %q", want)
		}
	}
	if strings.Contains(conf, "local 127.0.0.1") {
		t.Error("local bind must only appear with stunnel")
	}
	if strings.Contains(conf, "max-clients") {
		t.Error("max-clients must be omitted when unlimited")
	}
}

func TestRenderServerConfStunnel(t *testing.T) {
	cfg := agentapi.DefaultConfig()
	cfg.Protocol = "tcp"
	cfg.UseStunnel = true
	cfg.MaxClients = 50
	conf := renderServerConf(cfg, "/etc/openvpn/server")

	if !strings.Contains(conf, "local 127.0.0.1\n") {
		t.Error("stunnel config must bind OpenVPN to localhost")
	}
	if !strings.Contains(conf, "max-clients 50\n") {
		t.Error("expected max-clients directive")
	}
	if strings.Contains(conf, "explicit-exit-notify") {
		t.Error("explicit-exit-notify is udp only")
	}
}

func TestConfigureValidatesConfig(t *testing.T) {
	a := newTestAgent(t, &fakeRunner{})

	cfg := agentapi.DefaultConfig()
	cfg.Protocol = "sctp"
	res := a.Configure(context.Background(), cfg, nil)
	if res.OK() {
		t.Fatal("expected invalid protocol to be rejected")
	}

	res = a.Configure(context.Background(), nil, nil)
	if res.OK() {
		t.Fatal("expected nil config to be rejected")
	}
}

func TestConfigureRequiresInstall(t *testing.T) {
	runner := &fakeRunner{rules: []runnerRule{
		{match: "command -v openvpn", res: &ExecResult{ExitCode: 1}},
	}}
	a := newTestAgent(t, runner)

	res := a.Configure(context.Background(), agentapi.DefaultConfig(), nil)
	if res.OK() {
		t.Fatal("expected failure when openvpn is missing")
	}
	if !strings.Contains(res.Message, "installed") {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestConfigureWritesServerConfAndPersistsConfig(t *testing.T) {
	runner := &fakeRunner{}
	a := newTestAgent(t, runner)

	var checkpoints []int
	res := a.Configure(context.Background(), agentapi.DefaultConfig(), func(progress int, desc string) {
		checkpoints = append(checkpoints, progress)
	})
	if !res.OK() {
		t.Fatalf("expected success, got: %s / %s", res.Message, res.Error)
	}
	if res.Progress != 100 {
		t.Errorf("expected terminal progress 100, got %d", res.Progress)
	}

	conf, err := os.ReadFile(a.serverPath("server.conf"))
	if err != nil {
		t.Fatalf("server.conf not written: %v", err)
	}
	if !strings.Contains(string(conf), "port 1194") {
		t.Error("server.conf content missing")
	}

	applied, err := a.loadAppliedConfig()
	if err != nil {
		t.Fatalf("applied config not persisted: %v", err)
	}
	if applied.Port != 1194 || applied.Cipher != "AES-256-GCM" {
		t.Errorf("applied config round-trip mismatch: %+v", applied)
	}

	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i] < checkpoints[i-1] {
			t.Fatalf("progress went backwards: %v", checkpoints)
		}
	}

	for _, want := range []string{"init-pki", "build-ca", "sign-req server", "gen-dh", "--genkey secret", "chmod 644", "systemctl enable"} {
		if !runner.ran(want) {
			t.Errorf("expected command containing %q to run", want)
		}
	}
}

func TestConfigureFailureCarriesProgress(t *testing.T) {
	runner := &fakeRunner{rules: []runnerRule{
		{match: "gen-dh", res: &ExecResult{ExitCode: 1, Stderr: "entropy exhausted"}},
	}}
	a := newTestAgent(t, runner)

	res := a.Configure(context.Background(), agentapi.DefaultConfig(), nil)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "entropy exhausted") {
		t.Errorf("expected stderr detail in error, got %q", res.Error)
	}
	// The PKI sequence completed (25), gen-dh failed before its checkpoint.
	if res.Progress != 25 {
		t.Errorf("expected progress 25, got %d", res.Progress)
	}
}
