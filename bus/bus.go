// Package bus is the TCP cluster bus. It carries discovery custom messages
// around the member ring and the JOIN / LEAVE / SNAPSHOT membership
// exchange. Every member listens on its API port plus the bus offset.
//
// Custom messages are submitted to the ring head (CUSTOM), whose sequencer
// delivers them to each member in ring order (DELIVER) and collects the
// rewritten message from the reply (DELIVERED).
package bus

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"mapring/config"
	"mapring/discovery"
	"mapring/logger"
	"mapring/mapping"
	"mapring/ring"
)

// StateExchange is the node state shipped to joining nodes.
type StateExchange interface {
	Snapshot() []mapping.Item
	Install(items []mapping.Item) error
}

type Options struct {
	// HopTimeout bounds every bus round trip. Default 2s.
	HopTimeout time.Duration
	Logger     *zap.Logger
	Sequencer  []discovery.SequencerOption
}

// Bus implements discovery.Transport over TCP.
type Bus struct {
	server     *config.Server
	hopTimeout time.Duration
	log        *zap.Logger
	seq        *discovery.Sequencer

	// stream serialises listener calls, giving the node one message stream.
	stream sync.Mutex

	mu       sync.RWMutex
	listener discovery.Listener
	state    StateExchange
	ring     ring.Ring
	version  discovery.TopologyVersion
}

func New(server *config.Server, opts Options) *Bus {
	b := &Bus{
		server:     server,
		hopTimeout: opts.HopTimeout,
		log:        opts.Logger,
	}
	if b.hopTimeout <= 0 {
		b.hopTimeout = 2 * time.Second
	}
	if b.log == nil {
		b.log = logger.Named("bus")
	}
	b.ring = ring.New(server.MemberIDs())
	b.version = discovery.TopologyVersion{Major: server.GetClusterVersion()}

	seqOpts := append([]discovery.SequencerOption{discovery.WithLogger(b.log.Named("sequencer"))}, opts.Sequencer...)
	b.seq = discovery.NewSequencer(b.Members, b.hop, seqOpts...)
	b.seq.MembershipChanged(b.version, b.ring.IDs())
	return b
}

func (b *Bus) LocalID() string {
	return b.server.ServerID
}

func (b *Bus) SetListener(l discovery.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

// SetState installs the source and sink of the join-time state exchange.
func (b *Bus) SetState(s StateExchange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// Members returns the ring order, head first.
func (b *Bus) Members() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.IDs()
}

func (b *Bus) Head() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.Head()
}

func (b *Bus) IsHead() bool {
	return b.Head() == b.LocalID()
}

func (b *Bus) Topology() *discovery.Cache {
	return b.seq.Topology()
}

// Run drives the local sequencer. It only has work while this node is the
// ring head.
func (b *Bus) Run(ctx context.Context) error {
	return b.seq.Run(ctx)
}

// Broadcast hands msg to the ring head.
func (b *Bus) Broadcast(ctx context.Context, msg discovery.CustomMessage) error {
	head := b.Head()
	if head == "" || head == b.LocalID() {
		return b.seq.Submit(ctx, msg)
	}
	return b.submitRemote(ctx, head, msg)
}

func (b *Bus) deliver(msg discovery.CustomMessage) discovery.CustomMessage {
	b.mu.RLock()
	l := b.listener
	b.mu.RUnlock()
	if l == nil {
		return msg
	}
	b.stream.Lock()
	defer b.stream.Unlock()
	return l.OnCustomMessage(msg)
}

func (b *Bus) getState() StateExchange {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// refresh rebuilds the ring from the server's member view and tells the
// listener what changed since prev.
func (b *Bus) refresh(prev []string) {
	members := b.server.MemberIDs()

	b.mu.Lock()
	b.ring = ring.New(members)
	b.version = discovery.TopologyVersion{Major: b.server.GetClusterVersion()}
	ordered := b.ring.IDs()
	version := b.version
	l := b.listener
	b.mu.Unlock()

	b.seq.MembershipChanged(version, ordered)

	ev, changed := membershipEvent(prev, ordered, version)
	if !changed {
		return
	}
	b.log.Info("ring membership changed",
		zap.Stringer("event", ev.Type),
		zap.String("member", ev.NodeID),
		zap.Stringer("version", version),
		zap.String("head", ordered[0]))
	if l != nil {
		b.stream.Lock()
		l.OnMembershipChange(ev)
		b.stream.Unlock()
	}
}

func membershipEvent(prev, next []string, version discovery.TopologyVersion) (discovery.MembershipEvent, bool) {
	ev := discovery.MembershipEvent{Version: version, Members: next}
	for _, id := range next {
		if !slices.Contains(prev, id) {
			ev.Type, ev.NodeID = discovery.NodeJoined, id
			return ev, true
		}
	}
	for _, id := range prev {
		if !slices.Contains(next, id) {
			ev.Type, ev.NodeID = discovery.NodeLeft, id
			return ev, true
		}
	}
	return ev, false
}
