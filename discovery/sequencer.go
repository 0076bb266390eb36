package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mapring/metrics"
)

// ErrSequencerStopped is returned by Submit after Run returned.
var ErrSequencerStopped = errors.New("discovery: sequencer stopped")

// Hop delivers msg to one member and returns what that member forwards.
type Hop func(ctx context.Context, member string, msg CustomMessage) (CustomMessage, error)

// CompletionPolicy runs on the head when a message has visited every member and
// returns the ack to send next, or nil.
type CompletionPolicy func(msg CustomMessage) CustomMessage

// AckOnReturn closes the loop at the head with the message's own ack. Because
// the head handles one message at a time, each message yields at most one ack.
func AckOnReturn(msg CustomMessage) CustomMessage {
	return msg.AckMessage()
}

type SequencerOption func(*Sequencer)

func WithCompletionPolicy(p CompletionPolicy) SequencerOption {
	return func(s *Sequencer) { s.complete = p }
}

func WithReuseStrategy(strategy ReuseStrategy) SequencerOption {
	return func(s *Sequencer) { s.strategy = strategy }
}

func WithLogger(l *zap.Logger) SequencerOption {
	return func(s *Sequencer) { s.log = l }
}

// WithObserver registers fn to be called with every message after it
// completed a traversal.
func WithObserver(fn func(CustomMessage)) SequencerOption {
	return func(s *Sequencer) { s.observers = append(s.observers, fn) }
}

// Sequencer totally orders custom messages and walks them around the ring.
// Only the ring head's sequencer receives submissions.
type Sequencer struct {
	queue     chan CustomMessage
	members   func() []string
	hop       Hop
	complete  CompletionPolicy
	strategy  ReuseStrategy
	observers []func(CustomMessage)
	log       *zap.Logger

	mu    sync.Mutex
	cache *Cache
	done  chan struct{}
}

// NewSequencer builds a sequencer. members returns the current ring order,
// head first.
func NewSequencer(members func() []string, hop Hop, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		queue:    make(chan CustomMessage, 1024),
		members:  members,
		hop:      hop,
		complete: AckOnReturn,
		log:      zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = NewCache(TopologyVersion{}, members())
	return s
}

// Submit queues msg behind every message submitted before it.
func (s *Sequencer) Submit(ctx context.Context, msg CustomMessage) error {
	select {
	case <-s.done:
		return ErrSequencerStopped
	default:
	}
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes the queue until ctx is done.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.queue:
			// The ack of a message is sequenced right after it.
			for msg != nil {
				msg = s.traverse(ctx, msg)
			}
		}
	}
}

// Topology returns the cache built for the latest topology version.
func (s *Sequencer) Topology() *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// MembershipChanged moves the sequencer to a new major version.
func (s *Sequencer) MembershipChanged(version TopologyVersion, members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = NewCache(version, members)
}

func (s *Sequencer) traverse(ctx context.Context, msg CustomMessage) CustomMessage {
	start := time.Now()
	cur := msg
	for _, member := range s.members() {
		next, err := s.hop(ctx, member, cur)
		if err != nil {
			if cur.Mutable() {
				s.log.Warn("aborting traversal of mutable message",
					zap.Stringer("msg", cur.ID()), zap.String("member", member), zap.Error(err))
				// Members already visited may hold state for cur.
				if a, ok := cur.(Abortable); ok {
					return a.AbortMessage()
				}
				return nil
			}
			s.log.Warn("member missed message",
				zap.Stringer("msg", cur.ID()), zap.String("member", member), zap.Error(err))
			continue
		}
		if cur.Mutable() && next != nil {
			cur = next
		}
	}
	metrics.HopLatency.Observe(float64(time.Since(start).Milliseconds()))

	s.advance(cur)
	for _, fn := range s.observers {
		fn(cur)
	}
	return s.complete(cur)
}

func (s *Sequencer) advance(msg CustomMessage) {
	members := s.members()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cache.Version.NextMinor()
	if reused := msg.ReuseCache(s.strategy, next, s.cache); reused != nil {
		s.cache = reused
		return
	}
	s.cache = NewCache(next, members)
}
