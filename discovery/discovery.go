// Package discovery defines what the mapping protocol consumes from the
// node-discovery layer: ordered ring delivery of custom messages, membership
// change notifications and the topology cache reuse hook.
//
// Every custom message is handed to the ring head, which walks the members in
// ring order one hop at a time. Mutable messages may be rewritten by each hop;
// the value returned by a member is what the next member receives. When the
// message returns to the head the CompletionPolicy decides which ack, if any,
// is sent around the ring next.
package discovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CustomMessage is a payload riding the discovery ring.
type CustomMessage interface {
	ID() uuid.UUID
	// Mutable reports whether members may rewrite the message in transit.
	Mutable() bool
	// AckMessage is sent around the ring once this message completed its
	// traversal. Nil means no ack.
	AckMessage() CustomMessage
	// ReuseCache returns a cache to reuse for the topology version produced by
	// this message, or nil when the cache must be recomputed.
	ReuseCache(strategy ReuseStrategy, version TopologyVersion, prev *Cache) *Cache
}

// Abortable is implemented by mutable messages that announce an aborted
// traversal. The returned message must be immutable.
type Abortable interface {
	AbortMessage() CustomMessage
}

// Listener receives messages on the node's sequential message stream.
type Listener interface {
	// OnCustomMessage returns the message to forward to the next member.
	// For immutable messages the return value is ignored.
	OnCustomMessage(msg CustomMessage) CustomMessage
	OnMembershipChange(ev MembershipEvent)
}

// Transport is the ring-broadcast primitive.
type Transport interface {
	LocalID() string
	SetListener(l Listener)
	// Broadcast queues msg for ordered delivery to all live members. It does
	// not wait for the traversal.
	Broadcast(ctx context.Context, msg CustomMessage) error
}

type EventType int

const (
	NodeJoined EventType = iota
	NodeLeft
)

func (t EventType) String() string {
	switch t {
	case NodeJoined:
		return "joined"
	case NodeLeft:
		return "left"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// MembershipEvent describes a ring membership change. Members are in ring order.
type MembershipEvent struct {
	Type    EventType
	NodeID  string
	Version TopologyVersion
	Members []string
}
