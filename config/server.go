package config

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"

	"mapring/utils"
)

type Node struct {
	ServerID string
	Addr     string
}

// BusAddr is the address of the node's cluster bus.
func (n Node) BusAddr(offset int) (string, error) {
	return utils.BumpPort(n.Addr, offset)
}

// HostInfo is what a node reports about the machine it runs on.
type HostInfo struct {
	Hostname      string
	OS            string
	Platform      string
	KernelVersion string
	BootTime      uint64
}

// Server is this node's identity and its view of the cluster members.
type Server struct {
	ServerID       string
	Host           string
	Addr           string
	Port           string
	BusPort        string
	BusOffset      int
	HostInfo       HostInfo
	Nodes          map[string]*Node
	ClusterVersion uint64
	mu             sync.RWMutex
}

func NewServer(cfg NodeConfig) (*Server, error) {
	name := cfg.ID
	if name == "" {
		name = uuid.New().String()
	}

	ip := cfg.Host
	if ip == "" {
		var err error
		ip, err = utils.GetLocalIp()
		if err != nil {
			return nil, fmt.Errorf("couldn't configure the node: %w", err)
		}
	}

	offset := cfg.BusOffset
	if offset == 0 {
		offset = utils.BusPortOffset
	}
	port := strconv.Itoa(cfg.Port)
	addr := net.JoinHostPort(ip, port)
	busAddr, err := utils.BumpPort(addr, offset)
	if err != nil {
		return nil, err
	}
	_, busPort, _ := net.SplitHostPort(busAddr)

	server := &Server{
		ServerID:  name,
		Host:      ip,
		Addr:      addr,
		Port:      port,
		BusPort:   busPort,
		BusOffset: offset,
		HostInfo:  LookupHostInfo(),
		Nodes:     map[string]*Node{},
	}
	server.Nodes[name] = &Node{ServerID: name, Addr: addr}
	return server, nil
}

// LookupHostInfo reads host facts. Fields stay empty when the platform does
// not expose them.
func LookupHostInfo() HostInfo {
	info, err := host.Info()
	if err != nil || info == nil {
		return HostInfo{}
	}
	return HostInfo{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Platform:      info.Platform,
		KernelVersion: info.KernelVersion,
		BootTime:      info.BootTime,
	}
}

// BusAddr is the address this node's cluster bus listens on.
func (s *Server) BusAddr() string {
	return net.JoinHostPort(s.Host, s.BusPort)
}

// Persisted returns a copy of s that stays consistent while members join
// and leave.
func (s *Server) Persisted() *Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make(map[string]*Node, len(s.Nodes))
	for id, n := range s.Nodes {
		cp := *n
		nodes[id] = &cp
	}
	return &Server{
		ServerID:       s.ServerID,
		Host:           s.Host,
		Addr:           s.Addr,
		Port:           s.Port,
		BusPort:        s.BusPort,
		BusOffset:      s.BusOffset,
		HostInfo:       s.HostInfo,
		Nodes:          nodes,
		ClusterVersion: s.ClusterVersion,
	}
}

func (s *Server) GetClusterVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ClusterVersion
}
