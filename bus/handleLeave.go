package bus

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// LEAVE <SERVER_ID>
func (b *Bus) HandleLeave(ctx context.Context, conn net.Conn, parts []string) {
	if len(parts) != 2 {
		conn.Write([]byte("ERR INVALID FORMAT, EXPECTED FORMAT: LEAVE SID\n"))
		return
	}
	serverID := parts[1]

	prev := b.Members()
	if err := b.server.NodeExit(serverID); err != nil {
		conn.Write([]byte(fmt.Sprintf("ERR LEAVE FAILED: %s\n", err)))
		return
	}
	b.log.Info("node left cluster", zap.String("id", serverID))
	b.propagateSnapshot(ctx, serverID)
	b.refresh(prev)
	conn.Write([]byte("LEAVE_OK\n"))
}

// LeaveCluster asks the first reachable peer to remove this node.
func (b *Bus) LeaveCluster(ctx context.Context) error {
	peers := 0
	for _, n := range b.server.GetNodesSnapshot() {
		if n.ServerID == b.LocalID() {
			continue
		}
		peers++
		addr, err := n.BusAddr(b.server.BusOffset)
		if err != nil {
			continue
		}
		resp, err := b.requestAddr(ctx, addr, "LEAVE "+b.LocalID())
		if err != nil {
			b.log.Warn("peer unreachable for LEAVE", zap.String("peer", n.ServerID), zap.Error(err))
			continue
		}
		if resp == "LEAVE_OK" {
			b.log.Info("left cluster", zap.String("via", n.ServerID))
			return nil
		}
		b.log.Warn("peer refused LEAVE", zap.String("peer", n.ServerID), zap.String("resp", resp))
	}
	if peers == 0 {
		return nil
	}
	return errors.New("no peer acknowledged LEAVE")
}
