package bus

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"mapring/config"
	"mapring/discovery"
)

// hop delivers msg to member and returns what it forwards.
func (b *Bus) hop(ctx context.Context, member string, msg discovery.CustomMessage) (discovery.CustomMessage, error) {
	if member == b.LocalID() {
		return b.deliver(msg), nil
	}

	line, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	// MESSAGE FORMAT: DELIVER <msg>
	// RESPONSE FORMAT: DELIVERED <msg>
	resp, err := b.request(ctx, member, "DELIVER "+line)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(resp)
	if len(parts) < 2 || parts[0] != "DELIVERED" {
		return nil, fmt.Errorf("unexpected DELIVER response from %s: %s", member, resp)
	}
	return Decode(parts[1:])
}

func (b *Bus) submitRemote(ctx context.Context, head string, msg discovery.CustomMessage) error {
	line, err := Encode(msg)
	if err != nil {
		return err
	}
	resp, err := b.request(ctx, head, "CUSTOM "+line)
	if err != nil {
		return fmt.Errorf("submit to head %s: %w", head, err)
	}
	if resp != "OK" {
		return fmt.Errorf("head %s refused message: %s", head, resp)
	}
	return nil
}

func (b *Bus) request(ctx context.Context, member, cmd string) (string, error) {
	node, ok := b.server.GetConnectedNodeData(member)
	if !ok {
		return "", fmt.Errorf("%w: %s", config.ErrUnknownNode, member)
	}
	addr, err := node.BusAddr(b.server.BusOffset)
	if err != nil {
		return "", err
	}
	return b.requestAddr(ctx, addr, cmd)
}

// requestAddr sends one command line and reads one response line.
func (b *Bus) requestAddr(ctx context.Context, addr, cmd string) (string, error) {
	conn, err := b.dial(ctx, addr, b.hopTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("failed to write to %s: %w", addr, err)
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read from %s: %w", addr, err)
	}
	return strings.TrimSpace(resp), nil
}

func (b *Bus) dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)
	return conn, nil
}
