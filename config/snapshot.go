package config

import (
	"encoding/gob"
	"fmt"
	"io"
	"sort"
)

type ClusterSnapshot struct {
	ClusterVersion uint64
	Nodes          []Node // value copies of nodes
}

func (s *Server) BuildClusterSnapshot() ClusterSnapshot {
	p := s.Persisted()
	nodes := make([]Node, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ServerID < nodes[j].ServerID })
	return ClusterSnapshot{ClusterVersion: p.ClusterVersion, Nodes: nodes}
}

// ApplyClusterSnapshot replaces the member view with snapshot. The local
// node is always kept.
func (s *Server) ApplyClusterSnapshot(snapshot ClusterSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newNodes := make(map[string]*Node, len(snapshot.Nodes)+1)
	for i := range snapshot.Nodes {
		n := snapshot.Nodes[i]
		newNodes[n.ServerID] = &n
	}
	if _, ok := newNodes[s.ServerID]; !ok {
		newNodes[s.ServerID] = &Node{ServerID: s.ServerID, Addr: s.Addr}
	}

	s.Nodes = newNodes
	s.ClusterVersion = snapshot.ClusterVersion
}

func (s *Server) SendClusterSnapshot(w io.Writer) error {
	snap := s.BuildClusterSnapshot()

	enc := gob.NewEncoder(w)
	if err := enc.Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode cluster snapshot: %w", err)
	}
	return nil
}
