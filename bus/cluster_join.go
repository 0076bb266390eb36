package bus

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"mapring/config"
	"mapring/mapping"
)

// JoinState is what a joining node receives after JOIN_SUCCESS.
type JoinState struct {
	Cluster  config.ClusterSnapshot
	Mappings []mapping.Item
}

// JOIN <SERVER_ID> <PORT>
func (b *Bus) HandleJoin(ctx context.Context, conn net.Conn, parts []string) {
	if len(parts) != 3 {
		conn.Write([]byte("ERR usage: JOIN <SERVER_ID> <PORT>\n"))
		return
	}
	serverID := parts[1]
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	addr := net.JoinHostPort(ip, parts[2])

	prev := b.Members()
	if b.server.AddNode(serverID, addr) {
		b.log.Info("node joined cluster", zap.String("id", serverID), zap.String("addr", addr))
		b.propagateSnapshot(ctx, serverID)
		b.refresh(prev)
	} else {
		b.log.Info("node rejoined cluster", zap.String("id", serverID))
	}

	state := JoinState{Cluster: b.server.BuildClusterSnapshot()}
	if st := b.getState(); st != nil {
		state.Mappings = st.Snapshot()
	}
	if _, err := conn.Write([]byte("JOIN_SUCCESS\n")); err != nil {
		b.log.Warn("failed to send JOIN_SUCCESS", zap.String("id", serverID), zap.Error(err))
		return
	}
	if err := gob.NewEncoder(conn).Encode(&state); err != nil {
		b.log.Warn("failed to send join state", zap.String("id", serverID), zap.Error(err))
	}
}

// JoinCluster joins through the member whose bus listens on seedAddr and
// installs the cluster view and accepted mappings it returns.
func (b *Bus) JoinCluster(ctx context.Context, seedAddr string) error {
	b.log.Info("attempting to join cluster", zap.String("seed", seedAddr))
	// the seed contacts every member before answering
	conn, err := b.dial(ctx, seedAddr, 5*b.hopTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	joinMsg := fmt.Sprintf("JOIN %s %s\n", b.server.ServerID, b.server.Port)
	if _, err := conn.Write([]byte(joinMsg)); err != nil {
		return fmt.Errorf("failed to send JOIN message: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read JOIN response: %w", err)
	}
	if line = strings.TrimSpace(line); line != "JOIN_SUCCESS" {
		return fmt.Errorf("unexpected JOIN response: %s", line)
	}

	var state JoinState
	if err := gob.NewDecoder(reader).Decode(&state); err != nil {
		return fmt.Errorf("failed to decode join state: %w", err)
	}

	prev := b.Members()
	b.server.ApplyClusterSnapshot(state.Cluster)
	if st := b.getState(); st != nil {
		if err := st.Install(state.Mappings); err != nil {
			return fmt.Errorf("install accepted mappings: %w", err)
		}
	}
	b.refresh(prev)

	b.log.Info("joined cluster",
		zap.String("seed", seedAddr),
		zap.Int("members", len(state.Cluster.Nodes)),
		zap.Int("mappings", len(state.Mappings)))
	return nil
}
