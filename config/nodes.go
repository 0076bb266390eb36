package config

import (
	"errors"
	"sort"
)

var ErrUnknownNode = errors.New("server doesn't exist")

// AddNode records a member and bumps the cluster version. Re-adding a known
// node with the same address is a no-op and returns false.
func (s *Server) AddNode(serverID, addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.Nodes[serverID]; ok && n.Addr == addr {
		return false
	}
	s.Nodes[serverID] = &Node{ServerID: serverID, Addr: addr}
	s.ClusterVersion++
	return true
}

func (s *Server) NodeExit(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Nodes[serverID]; !ok {
		return ErrUnknownNode
	}
	delete(s.Nodes, serverID)
	s.ClusterVersion++
	return nil
}

func (s *Server) GetConnectedNodeData(serverID string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.Nodes[serverID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// GetNodesSnapshot returns value copies of the members ordered by id.
func (s *Server) GetNodesSnapshot() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func (s *Server) MemberIDs() []string {
	nodes := s.GetNodesSnapshot()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ServerID
	}
	return ids
}
