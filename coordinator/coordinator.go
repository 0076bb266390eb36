// Package coordinator runs the per-node side of the mapping agreement
// protocol. A Coordinator answers local registrations from the accepted
// store, proposes new bindings over the discovery ring, votes on proposals
// passing through the node and installs accepted bindings.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"mapring/discovery"
	"mapring/logger"
	"mapring/mapping"
	"mapring/metrics"
	"mapring/pending"
	"mapring/store"
)

const DefaultTimeout = 10 * time.Second

type Options struct {
	Transport discovery.Transport
	// Store defaults to a memory-only store.
	Store *store.Accepted
	// Timeout is how long a registration waits for its Accepted message.
	Timeout time.Duration
	// Strategy and Reuser drive the topology cache on membership changes.
	Strategy discovery.ReuseStrategy
	Reuser   func(members []string) discovery.CacheReuser
	Logger   *zap.Logger
	Now      func() time.Time
}

type Coordinator struct {
	id        string
	transport discovery.Transport
	store     *store.Accepted
	timeout   time.Duration
	strategy  discovery.ReuseStrategy
	reuser    func(members []string) discovery.CacheReuser
	log       *zap.Logger
	now       func() time.Time

	// seen holds ids of applied Accepted and Rejected messages.
	seen *cache.Cache

	mu       sync.Mutex
	pending  *pending.Registry
	topology *discovery.Cache
	fault    error
	closed   bool
}

// New builds a coordinator and installs it as the transport's listener.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		id:        opts.Transport.LocalID(),
		transport: opts.Transport,
		store:     opts.Store,
		timeout:   opts.Timeout,
		strategy:  opts.Strategy,
		reuser:    opts.Reuser,
		log:       opts.Logger,
		now:       opts.Now,
		pending:   pending.NewRegistry(),
	}
	if c.store == nil {
		c.store = store.New(nil)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.reuser == nil {
		c.reuser = discovery.ReuseIfSameMembers
	}
	if c.log == nil {
		c.log = logger.Named("coordinator")
	}
	c.log = c.log.With(zap.String("node", c.id))
	if c.now == nil {
		c.now = time.Now
	}
	c.seen = cache.New(4*c.timeout, 8*c.timeout)
	c.topology = discovery.NewCache(discovery.TopologyVersion{}, []string{c.id})

	c.transport.SetListener(c)
	return c
}

func (c *Coordinator) ID() string {
	return c.id
}

// Registration is the caller's handle on a requested binding.
type Registration struct {
	Item   mapping.Item
	future *pending.Future
}

// Bound reports whether the binding is already accepted.
func (r *Registration) Bound() bool {
	_, done, err := r.future.Result()
	return done && err == nil
}

// Wait blocks until the binding is accepted, rejected or timed out.
func (r *Registration) Wait(ctx context.Context) (string, error) {
	return r.future.Wait(ctx)
}

func (r *Registration) Done() <-chan struct{} {
	return r.future.Done()
}

// Register binds className under the type id derived from its name.
func (c *Coordinator) Register(ctx context.Context, platformID uint8, className string) (*Registration, error) {
	item, err := mapping.NewItem(platformID, mapping.TypeID(className), className)
	if err != nil {
		return nil, err
	}
	return c.RegisterMapping(ctx, item)
}

// RegisterMapping requests item cluster-wide. It returns at once; the
// Registration completes when the cluster accepted or rejected the binding.
// Known bindings are answered without any network traffic.
func (c *Coordinator) RegisterMapping(ctx context.Context, item mapping.Item) (*Registration, error) {
	item, err := mapping.NewItem(item.PlatformID, item.TypeID, item.ClassName)
	if err != nil {
		return nil, err
	}
	k := item.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, mapping.ErrStopped
	}

	if name, ok := c.store.Get(k); ok {
		c.mu.Unlock()
		if name != item.ClassName {
			metrics.Conflicts.WithLabelValues("register").Inc()
			return nil, conflictErr(k, name, item.ClassName)
		}
		return &Registration{Item: item, future: pending.Completed(name)}, nil
	}

	e, ok := c.pending.Lookup(k)
	if ok && e.InFlight.Expired(c.now()) {
		// Its traversal was lost; a fresh proposal replaces it.
		e.InFlight = nil
	}
	if ok {
		switch {
		case e.Local() && e.ClassName == item.ClassName:
			c.mu.Unlock()
			return &Registration{Item: item, future: e.Future}, nil
		case e.Local():
			c.mu.Unlock()
			metrics.Conflicts.WithLabelValues("register").Inc()
			return nil, conflictErr(k, e.ClassName, item.ClassName)
		case e.InFlight != nil && e.InFlight.ClassName != item.ClassName:
			c.mu.Unlock()
			metrics.Conflicts.WithLabelValues("register").Inc()
			return nil, conflictErr(k, e.InFlight.ClassName, item.ClassName)
		case e.InFlight != nil:
			// Another node's proposal for the same binding is on the ring;
			// its Accepted message releases us.
			if !e.Waiting() {
				e.Future = pending.NewFuture()
			}
			e.ClassName = item.ClassName
			e.Deadline = c.now().Add(c.timeout)
			fut := e.Future
			c.mu.Unlock()
			return &Registration{Item: item, future: fut}, nil
		}
	}

	e = c.pending.Ensure(k)
	if !e.Waiting() {
		e.Future = pending.NewFuture()
	}
	p := mapping.NewProposal(c.id, item)
	e.ClassName = item.ClassName
	e.ProposalID = p.MessageID
	e.Deadline = c.now().Add(c.timeout)
	fut := e.Future
	metrics.Pending.Set(float64(c.pending.Len()))
	c.mu.Unlock()

	metrics.Proposals.Inc()
	c.log.Debug("proposing mapping", zap.Stringer("item", item), zap.Stringer("proposal", p.MessageID))
	if err := c.transport.Broadcast(ctx, p); err != nil {
		err = fmt.Errorf("%w: broadcast proposal for %s: %w", mapping.ErrMappingTimeout, k, err)
		c.failLocal(k, p.MessageID, err)
		return nil, err
	}
	return &Registration{Item: item, future: fut}, nil
}

// Resolve reads the accepted binding for a key without network traffic.
func (c *Coordinator) Resolve(platformID uint8, typeID int32) (string, bool) {
	return c.store.Get(mapping.Key{PlatformID: platformID, TypeID: typeID})
}

// AwaitMapping returns a future completed when the key is accepted. It does
// not propose anything and fails with ErrMappingTimeout after the timeout
// window.
func (c *Coordinator) AwaitMapping(platformID uint8, typeID int32) *pending.Future {
	k := mapping.Key{PlatformID: platformID, TypeID: typeID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.store.Get(k); ok {
		return pending.Completed(name)
	}
	if c.closed {
		f := pending.NewFuture()
		f.Fail(mapping.ErrStopped)
		return f
	}
	e := c.pending.Ensure(k)
	if !e.Waiting() {
		e.Future = pending.NewFuture()
		e.Deadline = c.now().Add(c.timeout)
	}
	metrics.Pending.Set(float64(c.pending.Len()))
	return e.Future
}

// Snapshot returns every accepted binding, for the full-state exchange with
// joining nodes.
func (c *Coordinator) Snapshot() []mapping.Item {
	return c.store.Snapshot()
}

// Install applies bindings received in a full-state exchange.
func (c *Coordinator) Install(items []mapping.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		if err := c.applyLocked(it); err != nil {
			return err
		}
	}
	metrics.Pending.Set(float64(c.pending.Len()))
	return nil
}

// Topology is the cache built for the latest membership the node saw.
func (c *Coordinator) Topology() *discovery.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topology
}

// Err returns the first fault observed: an invariant violation or an
// accepted binding the store failed to persist.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// Close fails every waiter with ErrStopped. Later registrations fail too.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, e := range c.pending.Entries() {
		if e.Waiting() {
			e.Future.Fail(mapping.ErrStopped)
		}
		c.pending.Remove(e.Key)
	}
	metrics.Pending.Set(0)
}

func (c *Coordinator) failLocal(k mapping.Key, proposalID uuid.UUID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending.Lookup(k)
	if !ok || e.ProposalID != proposalID {
		return
	}
	if e.Waiting() {
		e.Future.Fail(err)
	}
	e.Future, e.ClassName, e.ProposalID = nil, "", uuid.Nil
	c.pending.Prune(e)
	metrics.Pending.Set(float64(c.pending.Len()))
}

func conflictErr(k mapping.Key, existing, requested string) error {
	return fmt.Errorf("%w: %s is already bound to %s, requested %s",
		mapping.ErrMappingConflict, k, existing, requested)
}
