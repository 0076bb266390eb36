package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mapring/ring"
)

// ErrNodeGone is returned when a message is addressed to a member that left.
var ErrNodeGone = errors.New("discovery: node is not a ring member")

// Network is an in-process ring. Every member gets its own sequential message
// stream and all custom messages pass through one sequencer, which plays the
// ring head. Used by single-process clusters and tests.
type Network struct {
	mu      sync.RWMutex
	ring    ring.Ring
	nodes   map[string]*memNode
	version TopologyVersion
	seq     *Sequencer
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memNode struct {
	id     string
	stream chan func()
	quit   chan struct{}

	mu       sync.Mutex
	listener Listener
}

func NewNetwork(log *zap.Logger, opts ...SequencerOption) *Network {
	if log == nil {
		log = zap.NewNop()
	}
	n := &Network{
		nodes: make(map[string]*memNode),
		log:   log,
	}
	opts = append([]SequencerOption{WithLogger(log.Named("sequencer"))}, opts...)
	n.seq = NewSequencer(n.Members, n.hop, opts...)
	return n
}

// Start runs the sequencer until Close.
func (n *Network) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		_ = n.seq.Run(ctx)
	}()
}

// Close stops the sequencer and every member stream.
func (n *Network) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Lock()
	for id, node := range n.nodes {
		close(node.quit)
		delete(n.nodes, id)
	}
	n.ring = nil
	n.mu.Unlock()
	n.wg.Wait()
}

// Members returns the ring order, head first.
func (n *Network) Members() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ring.IDs()
}

func (n *Network) Topology() *Cache {
	return n.seq.Topology()
}

// Join adds a member and notifies every member, the new one included.
func (n *Network) Join(id string) (*MemoryTransport, error) {
	node := &memNode{
		id:     id,
		stream: make(chan func(), 256),
		quit:   make(chan struct{}),
	}

	n.mu.Lock()
	if _, exists := n.nodes[id]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("node %s already joined", id)
	}
	n.nodes[id] = node
	n.ring = n.ring.Add(id)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		node.loop()
	}()
	ev, targets := n.membershipChangedLocked(NodeJoined, id)
	n.mu.Unlock()

	n.notify(ev, targets)
	n.log.Info("node joined ring", zap.String("id", id), zap.Stringer("version", ev.Version))
	return &MemoryTransport{net: n, id: id}, nil
}

// Leave removes a member. Messages in flight towards it are lost.
func (n *Network) Leave(id string) {
	n.mu.Lock()
	node, ok := n.nodes[id]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.nodes, id)
	close(node.quit)
	n.ring = n.ring.Remove(id)
	ev, targets := n.membershipChangedLocked(NodeLeft, id)
	n.mu.Unlock()

	n.notify(ev, targets)
	n.log.Info("node left ring", zap.String("id", id), zap.Stringer("version", ev.Version))
}

func (n *Network) membershipChangedLocked(t EventType, id string) (MembershipEvent, []*memNode) {
	n.version = n.version.NextMajor()
	members := n.ring.IDs()
	n.seq.MembershipChanged(n.version, members)

	targets := make([]*memNode, 0, len(n.nodes))
	for _, m := range members {
		targets = append(targets, n.nodes[m])
	}
	return MembershipEvent{Type: t, NodeID: id, Version: n.version, Members: members}, targets
}

func (n *Network) notify(ev MembershipEvent, targets []*memNode) {
	for _, node := range targets {
		node.run(func() {
			if l := node.getListener(); l != nil {
				l.OnMembershipChange(ev)
			}
		})
	}
}

func (n *Network) hop(ctx context.Context, member string, msg CustomMessage) (CustomMessage, error) {
	n.mu.RLock()
	node, ok := n.nodes[member]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeGone, member)
	}

	reply := make(chan CustomMessage, 1)
	if !node.run(func() { reply <- node.deliver(msg) }) {
		return nil, fmt.Errorf("%w: %s", ErrNodeGone, member)
	}
	select {
	case out := <-reply:
		return out, nil
	case <-node.quit:
		return nil, fmt.Errorf("%w: %s", ErrNodeGone, member)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *memNode) loop() {
	for {
		select {
		case <-m.quit:
			return
		case fn := <-m.stream:
			fn()
		}
	}
}

func (m *memNode) run(fn func()) bool {
	select {
	case <-m.quit:
		return false
	case m.stream <- fn:
		return true
	}
}

func (m *memNode) deliver(msg CustomMessage) CustomMessage {
	l := m.getListener()
	if l == nil {
		return msg
	}
	return l.OnCustomMessage(msg)
}

func (m *memNode) getListener() Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// MemoryTransport is one member's handle on a Network.
type MemoryTransport struct {
	net *Network
	id  string
}

func (t *MemoryTransport) LocalID() string {
	return t.id
}

func (t *MemoryTransport) SetListener(l Listener) {
	t.net.mu.RLock()
	node, ok := t.net.nodes[t.id]
	t.net.mu.RUnlock()
	if !ok {
		return
	}
	node.mu.Lock()
	node.listener = l
	node.mu.Unlock()
}

func (t *MemoryTransport) Broadcast(ctx context.Context, msg CustomMessage) error {
	t.net.mu.RLock()
	_, ok := t.net.nodes[t.id]
	t.net.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeGone, t.id)
	}
	return t.net.seq.Submit(ctx, msg)
}
