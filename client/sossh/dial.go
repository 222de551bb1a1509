// Package sossh reaches a TCP service behind an ssh host by running the system ssh client in netcat mode.
package sossh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Tunnel describes how to reach the ssh host.
type Tunnel struct {
	Host     string
	Port     int
	Username string
}

func (t Tunnel) args(target string) []string {
	destination := t.Host
	if t.Username != "" {
		destination = fmt.Sprintf("%s@%s", t.Username, t.Host)
	}
	port := t.Port
	if port == 0 {
		port = 22
	}
	return []string{destination, "-p", fmt.Sprint(port), "-o", "BatchMode=yes", "-W", target}
}

// Conn is a connection carried over the stdio of an ssh process.
type Conn struct {
	io.ReadCloser
	io.WriteCloser
	cancel context.CancelFunc
	target string
}

var _ net.Conn = (*Conn)(nil)

func (c *Conn) Close() error {
	c.cancel()
	return errors.Join(c.ReadCloser.Close(), c.WriteCloser.Close())
}

func (c *Conn) LocalAddr() net.Addr {
	return nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return tunnelAddr(c.target)
}

func (c *Conn) SetDeadline(t time.Time) error {
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return nil
}

type tunnelAddr string

func (a tunnelAddr) Network() string { return "ssh" }
func (a tunnelAddr) String() string  { return string(a) }

// DialContext connects to target ("host:port", resolved on the ssh host) through the tunnel.
func (t Tunnel) DialContext(ctx context.Context, network, target string) (net.Conn, error) {
	if network != "tcp" && !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, "ssh", t.args(target)...)
	cmd.Stderr = os.Stderr

	in, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	out, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ssh: %w", err)
	}

	return &Conn{
		ReadCloser:  in,
		WriteCloser: out,
		cancel:      cancel,
		target:      target,
	}, nil
}
