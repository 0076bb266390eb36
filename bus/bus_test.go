package bus

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapring/config"
	"mapring/coordinator"
	"mapring/discovery"
	"mapring/mapping"
	"mapring/ring"
)

type markAll struct {
	mu     sync.Mutex
	events []discovery.MembershipEvent
}

func (m *markAll) OnCustomMessage(msg discovery.CustomMessage) discovery.CustomMessage {
	if p, ok := msg.(mapping.Proposal); ok {
		return p.MarkDuplicate()
	}
	return msg
}

func (m *markAll) OnMembershipChange(ev discovery.MembershipEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func newPipeBus(t *testing.T, id string, peers ...string) (*Bus, net.Conn) {
	t.Helper()
	server, err := config.NewServer(config.NodeConfig{ID: id, Host: "127.0.0.1", Port: 7001})
	require.NoError(t, err)
	for i, p := range peers {
		server.AddNode(p, "127.0.0.1:"+strconv.Itoa(7002+i))
	}
	b := New(server, Options{Logger: zap.NewNop(), HopTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	client, srv := net.Pipe()
	go b.handleConnection(ctx, srv)
	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	return b, client
}

func roundTrip(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	resp, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSpace(resp)
}

func TestHandleDeliver(t *testing.T) {
	b, conn := newPipeBus(t, "a")
	b.SetListener(&markAll{})

	p := mapping.NewProposal("b", mapping.Item{TypeID: 101, ClassName: "com.foo.Bar"})
	line, err := Encode(p)
	require.NoError(t, err)

	resp := roundTrip(t, conn, "DELIVER "+line)
	want, err := Encode(p.MarkDuplicate())
	require.NoError(t, err)
	assert.Equal(t, "DELIVERED "+want, resp)

	resp = roundTrip(t, conn, "DELIVER PROPOSE garbage")
	assert.True(t, strings.HasPrefix(resp, "ERR"), resp)
}

func TestHandleCustomRequiresHead(t *testing.T) {
	ids := []string{"node-1", "node-2"}
	head := ring.New(ids).Head()
	local := ids[0]
	if local == head {
		local = ids[1]
	}

	b, conn := newPipeBus(t, local, head)
	require.False(t, b.IsHead())

	line, err := Encode(mapping.NewProposal(local, mapping.Item{TypeID: 1, ClassName: "x.X"}))
	require.NoError(t, err)
	assert.Equal(t, "ERR NOT_HEAD "+head, roundTrip(t, conn, "CUSTOM "+line))
}

func TestHandleUnknownAndShow(t *testing.T) {
	_, conn := newPipeBus(t, "a")
	assert.Equal(t, "ERR unknown command PING", roundTrip(t, conn, "PING"))
	assert.Equal(t, "---------------", roundTrip(t, conn, "SHOW"))
}

func TestMembershipEvent(t *testing.T) {
	v := discovery.TopologyVersion{Major: 3}
	ev, ok := membershipEvent([]string{"a"}, []string{"a", "b"}, v)
	require.True(t, ok)
	assert.Equal(t, discovery.NodeJoined, ev.Type)
	assert.Equal(t, "b", ev.NodeID)

	ev, ok = membershipEvent([]string{"a", "b"}, []string{"a"}, v)
	require.True(t, ok)
	assert.Equal(t, discovery.NodeLeft, ev.Type)

	_, ok = membershipEvent([]string{"a"}, []string{"a"}, v)
	assert.False(t, ok)
}

type tcpNode struct {
	bus   *Bus
	coord *coordinator.Coordinator
}

func (n *tcpNode) busAddr() string {
	return n.bus.server.BusAddr()
}

func startTCPNode(t *testing.T, ctx context.Context, id string) *tcpNode {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	busPort := lis.Addr().(*net.TCPAddr).Port
	if busPort <= 10000 {
		lis.Close()
		t.Skipf("ephemeral port %d below bus offset", busPort)
	}

	server, err := config.NewServer(config.NodeConfig{
		ID:        id,
		Host:      "127.0.0.1",
		Port:      busPort - 10000,
		BusOffset: 10000,
	})
	require.NoError(t, err)

	b := New(server, Options{Logger: zap.NewNop(), HopTimeout: time.Second})
	c := coordinator.New(coordinator.Options{Transport: b, Logger: zap.NewNop(), Timeout: 3 * time.Second})
	b.SetState(c)
	t.Cleanup(c.Close)

	go b.Serve(ctx, lis)
	go b.Run(ctx)
	go c.Run(ctx)
	return &tcpNode{bus: b, coord: c}
}

func startTCPCluster(t *testing.T, ids ...string) []*tcpNode {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	nodes := make([]*tcpNode, 0, len(ids))
	for i, id := range ids {
		n := startTCPNode(t, ctx, id)
		if i > 0 {
			require.NoError(t, n.bus.JoinCluster(ctx, nodes[0].busAddr()))
		}
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		assert.Len(t, n.bus.Members(), len(ids))
	}
	return nodes
}

func TestTCPClusterAgreesOnMapping(t *testing.T) {
	nodes := startTCPCluster(t, "n1", "n2", "n3")
	bar := mapping.Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"}
	baz := mapping.Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Baz"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, req := range []struct {
		node *tcpNode
		item mapping.Item
	}{{nodes[1], bar}, {nodes[2], baz}} {
		wg.Add(1)
		go func(i int, node *tcpNode, item mapping.Item) {
			defer wg.Done()
			reg, err := node.coord.RegisterMapping(ctx, item)
			if err == nil {
				_, err = reg.Wait(ctx)
			}
			results[i] = err
		}(i, req.node, req.item)
	}
	wg.Wait()

	winners := 0
	winner := bar.ClassName
	for i, err := range results {
		if err == nil {
			winners++
			if i == 1 {
				winner = baz.ClassName
			}
			continue
		}
		assert.ErrorIs(t, err, mapping.ErrMappingConflict)
	}
	require.Equal(t, 1, winners)

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if name, ok := n.coord.Resolve(0, 101); !ok || name != winner {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTCPLateJoinerReceivesMappings(t *testing.T) {
	nodes := startTCPCluster(t, "n1", "n2")
	bar := mapping.Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg, err := nodes[0].coord.RegisterMapping(ctx, bar)
	require.NoError(t, err)
	_, err = reg.Wait(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := nodes[1].coord.Resolve(0, 101)
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	runCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)
	late := startTCPNode(t, runCtx, "n3")
	require.NoError(t, late.bus.JoinCluster(ctx, nodes[1].busAddr()))

	name, ok := late.coord.Resolve(0, 101)
	require.True(t, ok)
	assert.Equal(t, "com.foo.Bar", name)
	assert.Len(t, nodes[0].bus.Members(), 3)

	require.NoError(t, late.bus.LeaveCluster(ctx))
	require.Eventually(t, func() bool {
		return len(nodes[0].bus.Members()) == 2 && len(nodes[1].bus.Members()) == 2
	}, 3*time.Second, 10*time.Millisecond)
}
