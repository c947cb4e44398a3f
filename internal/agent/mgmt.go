package agent

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

// mgmtClient speaks the OpenVPN management interface protocol over a local
// TCP socket. Multi-line responses are terminated by an "END" line; kill
// answers with a single SUCCESS/ERROR line.
type mgmtClient struct {
	conn    net.Conn
	rd      *bufio.Reader
	timeout time.Duration
}

func dialMgmt(addr string, timeout time.Duration) (*mgmtClient, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to management interface at %s: %w", addr, err)
	}

	c := &mgmtClient{
		conn:    conn,
		rd:      bufio.NewReader(conn),
		timeout: timeout,
	}

	// The daemon greets with one ">INFO:..." line on connect.
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if _, err := c.rd.ReadString('\n'); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read management greeting: %w", err)
	}
	return c, nil
}

func (c *mgmtClient) Close() error {
	return c.conn.Close()
}

func (c *mgmtClient) send(cmd string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	_, err := fmt.Fprintf(c.conn, "%s\n", cmd)
	return err
}

// runMultiline sends a command and collects lines until the END terminator.
func (c *mgmtClient) runMultiline(cmd string) ([]string, error) {
	if err := c.send(cmd); err != nil {
		return nil, fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	var lines []string
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		line, err := c.rd.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed reading %q response: %w", cmd, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "END" {
			return lines, nil
		}
		if strings.HasPrefix(line, "ERROR:") {
			return nil, fmt.Errorf("management %q failed: %s", cmd, line)
		}
		lines = append(lines, line)
	}
}

// Status returns the raw status response lines.
func (c *mgmtClient) Status() ([]string, error) {
	return c.runMultiline("status")
}

// Version returns the daemon version string.
func (c *mgmtClient) Version() (string, error) {
	lines, err := c.runMultiline("version")
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "OpenVPN Version: ") {
			return strings.TrimPrefix(line, "OpenVPN Version: "), nil
		}
	}
	return "", nil
}

// Kill disconnects a client by common name. The daemon answers ERROR when
// no such session exists; the session being gone is what the caller wanted,
// so that is reported as notFound rather than failure.
func (c *mgmtClient) Kill(commonName string) (found bool, err error) {
	if err := c.send("kill " + commonName); err != nil {
		return false, fmt.Errorf("failed to send kill: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed reading kill response: %w", err)
	}
	return strings.HasPrefix(line, "SUCCESS"), nil
}

// parseStatusConnections extracts live sessions from the status response.
// CLIENT_LIST fields: header, common name, real address, virtual address,
// bytes received, bytes sent, connected since, connected since (unix).
func parseStatusConnections(lines []string) []agentapi.Connection {
	conns := make([]agentapi.Connection, 0)
	for _, line := range lines {
		if !strings.HasPrefix(line, "CLIENT_LIST,") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 8 {
			continue
		}
		if fields[1] == "UNDEF" {
			continue
		}

		conn := agentapi.Connection{
			CommonName:     fields[1],
			RealAddress:    fields[2],
			VirtualAddress: fields[3],
		}
		conn.BytesReceived, _ = strconv.ParseInt(fields[4], 10, 64)
		conn.BytesSent, _ = strconv.ParseInt(fields[5], 10, 64)
		if unix, err := strconv.ParseInt(fields[7], 10, 64); err == nil {
			conn.ConnectedSince = time.Unix(unix, 0).UTC()
		}
		conns = append(conns, conn)
	}
	return conns
}

// aggregateStats sums the live session set.
func aggregateStats(conns []agentapi.Connection) agentapi.ConnectionStats {
	stats := agentapi.ConnectionStats{ConnectedClients: len(conns)}
	for _, c := range conns {
		stats.TotalBytesIn += c.BytesReceived
		stats.TotalBytesOut += c.BytesSent
	}
	return stats
}
