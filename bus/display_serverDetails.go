package bus

import (
	"fmt"
	"net"
	"strings"

	"mapring/utils"
)

func (b *Bus) HandleShow(conn net.Conn) {
	s := b.server
	var sb strings.Builder
	sb.WriteString("---------------\n")
	fmt.Fprintf(&sb, "Server ID: %s | Host: %s | Addr: %s | BusPort: %s\n", s.ServerID, s.Host, s.Addr, s.BusPort)
	fmt.Fprintf(&sb, "Hostname: %s | OS: %s | Platform: %s\n", s.HostInfo.Hostname, s.HostInfo.OS, s.HostInfo.Platform)
	fmt.Fprintf(&sb, "Cluster Version: %d | Topology: %s\n", s.GetClusterVersion(), b.Topology().Version)
	sb.WriteString("--- Ring ---\n")
	for i, id := range b.Members() {
		n, _ := s.GetConnectedNodeData(id)
		role := ""
		if i == 0 {
			role = " (head)"
		}
		fmt.Fprintf(&sb, "  Slot: %5d | ServerID: %s | Addr: %s%s\n", utils.Slot(id), id, n.Addr, role)
	}
	if st := b.getState(); st != nil {
		items := st.Snapshot()
		fmt.Fprintf(&sb, "--- Accepted Mappings (%d) ---\n", len(items))
		for _, it := range items {
			fmt.Fprintf(&sb, "  %d:%d -> %s\n", it.PlatformID, it.TypeID, it.ClassName)
		}
	}
	sb.WriteString("---------------\n")
	conn.Write([]byte(sb.String()))
}
