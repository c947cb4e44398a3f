package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

var sampleStatusLines = []string{
	"TITLE,OpenVPN 2.6.3",
	"TIME,2024-03-01 10:00:00,1709287200",
	"HEADER,CLIENT_LIST,Common Name,Real Address,Virtual Address,Bytes Received,Bytes Sent,Connected Since,Connected Since (time_t)",
	"CLIENT_LIST,alice,203.0.113.5:51820,10.8.0.2,1024,2048,2024-03-01 09:00:00,1709283600",
	"CLIENT_LIST,bob,198.51.100.3:44021,10.8.0.3,512,4096,2024-03-01 09:30:00,1709285400",
	"CLIENT_LIST,UNDEF,192.0.2.1:1194,,0,0,2024-03-01 09:59:00,1709287140",
	"ROUTING_TABLE,10.8.0.2,alice,203.0.113.5:51820,2024-03-01 09:00:00,1709283600",
	"GLOBAL_STATS,Max bcast/mcast queue length,0",
}

func TestParseStatusConnections(t *testing.T) {
	conns := parseStatusConnections(sampleStatusLines)

	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}

	alice := conns[0]
	if alice.CommonName != "alice" {
		t.Errorf("expected alice first, got %q", alice.CommonName)
	}
	if alice.RealAddress != "203.0.113.5:51820" || alice.VirtualAddress != "10.8.0.2" {
		t.Errorf("unexpected addresses: %+v", alice)
	}
	if alice.BytesReceived != 1024 || alice.BytesSent != 2048 {
		t.Errorf("unexpected byte counters: %+v", alice)
	}
	if alice.ConnectedSince.Unix() != 1709283600 {
		t.Errorf("unexpected connect time: %v", alice.ConnectedSince)
	}
}

func TestAggregateStats(t *testing.T) {
	stats := aggregateStats(parseStatusConnections(sampleStatusLines))

	if stats.ConnectedClients != 2 {
		t.Errorf("expected 2 clients, got %d", stats.ConnectedClients)
	}
	if stats.TotalBytesIn != 1536 {
		t.Errorf("expected 1536 bytes in, got %d", stats.TotalBytesIn)
	}
	if stats.TotalBytesOut != 6144 {
		t.Errorf("expected 6144 bytes out, got %d", stats.TotalBytesOut)
	}
}

// fakeMgmtServer emulates the OpenVPN management interface for one
// connection at a time.
func fakeMgmtServer(t *testing.T, connected []string) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				fmt.Fprintf(conn, ">INFO:OpenVPN Management Interface Version 5\r\n")

				rd := bufio.NewReader(conn)
				for {
					line, err := rd.ReadString('\n')
					if err != nil {
						return
					}
					switch cmd := strings.TrimSpace(line); {
					case cmd == "status":
						for _, l := range sampleStatusLines {
							fmt.Fprintf(conn, "%s\r\n", l)
						}
						fmt.Fprintf(conn, "END\r\n")
					case cmd == "version":
						fmt.Fprintf(conn, "OpenVPN Version: OpenVPN 2.6.3 x86_64-pc-linux-gnu\r\n")
						fmt.Fprintf(conn, "Management Version: 5\r\n")
						fmt.Fprintf(conn, "END\r\n")
					case strings.HasPrefix(cmd, "kill "):
						name := strings.TrimPrefix(cmd, "kill ")
						known := false
						for _, c := range connected {
							if c == name {
								known = true
							}
						}
						if known {
							fmt.Fprintf(conn, "SUCCESS: common name '%s' found, 1 client(s) killed\r\n", name)
						} else {
							fmt.Fprintf(conn, "ERROR: common name '%s' not found\r\n", name)
						}
					default:
						fmt.Fprintf(conn, "ERROR: unknown command\r\n")
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestGetStatusViaManagementInterface(t *testing.T) {
	addr := fakeMgmtServer(t, []string{"alice", "bob"})
	a := New(Options{
		Workspace: t.TempDir(),
		ServerDir: t.TempDir(),
		MgmtAddr:  addr,
		Runner:    &fakeRunner{},
	})

	res := a.GetStatus(context.Background())
	if !res.OK() {
		t.Fatalf("expected success, got: %s / %s", res.Message, res.Error)
	}

	var status agentapi.ServerStatus
	if err := json.Unmarshal([]byte(res.Output), &status); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if !status.IsRunning {
		t.Error("expected running status")
	}
	if !strings.Contains(status.Version, "2.6.3") {
		t.Errorf("unexpected version %q", status.Version)
	}
	if len(status.Connections) != 2 {
		t.Errorf("expected 2 connections, got %d", len(status.Connections))
	}
	if status.Stats.ConnectedClients != 2 {
		t.Errorf("expected 2 clients in stats, got %d", status.Stats.ConnectedClients)
	}
}

func TestGetStatusDegradesWithoutManagementInterface(t *testing.T) {
	runner := &fakeRunner{rules: []runnerRule{
		{match: "systemctl is-active", res: &ExecResult{ExitCode: 3}},
	}}
	a := New(Options{
		Workspace: t.TempDir(),
		ServerDir: t.TempDir(),
		MgmtAddr:  "127.0.0.1:1", // nothing listens here
		Runner:    runner,
	})

	res := a.GetStatus(context.Background())
	if !res.OK() {
		t.Fatalf("degraded status must still succeed, got: %s", res.Error)
	}

	var status agentapi.ServerStatus
	if err := json.Unmarshal([]byte(res.Output), &status); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if status.IsRunning {
		t.Error("expected not running when systemctl reports inactive")
	}
	if !runner.ran("systemctl is-active") {
		t.Error("expected systemctl fallback probe")
	}
}

func TestDisconnectClient(t *testing.T) {
	addr := fakeMgmtServer(t, []string{"alice"})
	a := New(Options{
		Workspace: t.TempDir(),
		ServerDir: t.TempDir(),
		MgmtAddr:  addr,
		Runner:    &fakeRunner{},
	})

	res := a.DisconnectClient(context.Background(), "alice")
	if !res.OK() {
		t.Fatalf("expected success, got: %s", res.Error)
	}
	if !strings.Contains(res.Message, "disconnected") {
		t.Errorf("unexpected message %q", res.Message)
	}

	// Killing a session that does not exist still succeeds.
	res = a.DisconnectClient(context.Background(), "mallory")
	if !res.OK() {
		t.Fatalf("expected success for absent session, got: %s", res.Error)
	}
	if !strings.Contains(res.Message, "was not connected") {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestDisconnectClientUnreachableSocket(t *testing.T) {
	a := New(Options{
		Workspace: t.TempDir(),
		ServerDir: t.TempDir(),
		MgmtAddr:  "127.0.0.1:1",
		Runner:    &fakeRunner{},
	})

	res := a.DisconnectClient(context.Background(), "alice")
	if res.OK() {
		t.Fatal("expected failure when the management socket is unreachable")
	}
}
