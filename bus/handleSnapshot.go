package bus

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"slices"
	"strings"

	"go.uber.org/zap"

	"mapring/config"
)

// SNAPSHOT followed by a gob encoded config.ClusterSnapshot.
func (b *Bus) HandleClusterSnapshot(reader *bufio.Reader, conn net.Conn) {
	dec := gob.NewDecoder(reader)

	var snap config.ClusterSnapshot
	if err := dec.Decode(&snap); err != nil {
		b.log.Warn("error decoding snapshot", zap.Error(err))
		conn.Write([]byte("ERR: failed to decode snapshot\n"))
		return
	}

	if snap.ClusterVersion >= b.server.GetClusterVersion() {
		prev := b.Members()
		b.server.ApplyClusterSnapshot(snap)
		b.refresh(prev)
	} else {
		b.log.Debug("ignoring stale snapshot",
			zap.Uint64("version", snap.ClusterVersion),
			zap.Uint64("current", b.server.GetClusterVersion()))
	}
	conn.Write([]byte("SNAPSHOT_OK\n"))
}

// propagateSnapshot pushes the local cluster view to every member except
// this node and skip.
func (b *Bus) propagateSnapshot(ctx context.Context, skip ...string) {
	for _, n := range b.server.GetNodesSnapshot() {
		if n.ServerID == b.LocalID() || slices.Contains(skip, n.ServerID) {
			continue
		}
		if err := b.sendSnapshot(ctx, n); err != nil {
			b.log.Warn("failed to send snapshot", zap.String("to", n.ServerID), zap.Error(err))
		}
	}
}

func (b *Bus) sendSnapshot(ctx context.Context, n config.Node) error {
	addr, err := n.BusAddr(b.server.BusOffset)
	if err != nil {
		return err
	}
	conn, err := b.dial(ctx, addr, b.hopTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("SNAPSHOT\n")); err != nil {
		return err
	}
	if err := b.server.SendClusterSnapshot(conn); err != nil {
		return err
	}

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read SNAPSHOT response: %w", err)
	}
	if resp = strings.TrimSpace(resp); resp != "SNAPSHOT_OK" {
		return fmt.Errorf("unexpected SNAPSHOT response: %s", resp)
	}
	return nil
}
