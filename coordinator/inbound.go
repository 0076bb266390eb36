package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"mapring/discovery"
	"mapring/mapping"
	"mapring/metrics"
	"mapring/pending"
)

// OnCustomMessage handles a message on the node's sequential stream and
// returns what the ring forwards.
func (c *Coordinator) OnCustomMessage(msg discovery.CustomMessage) discovery.CustomMessage {
	switch m := msg.(type) {
	case mapping.Proposal:
		return c.onProposal(m)
	case mapping.Accepted:
		c.onAccepted(m)
	case mapping.Rejected:
		c.onRejected(m)
	case mapping.Aborted:
		c.onAborted(m)
	}
	return msg
}

func (c *Coordinator) onProposal(p mapping.Proposal) mapping.Proposal {
	if p.Rejected() {
		return p
	}
	k := p.Item.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.store.Get(k); ok {
		if name == p.Item.ClassName {
			if !p.Duplicate {
				metrics.Duplicates.Inc()
			}
			return p.MarkDuplicate()
		}
		metrics.Conflicts.WithLabelValues("accepted").Inc()
		c.log.Debug("rejecting proposal, key already accepted",
			zap.Stringer("item", p.Item), zap.String("existing", name))
		return p.Reject(name)
	}

	e, ok := c.pending.Lookup(k)
	if ok && e.InFlight.Expired(c.now()) {
		e.InFlight = nil
	}
	if ok && e.InFlight != nil && e.InFlight.ProposalID != p.MessageID {
		if e.InFlight.ClassName == p.Item.ClassName {
			if !p.Duplicate {
				metrics.Duplicates.Inc()
			}
			return p.MarkDuplicate()
		}
		metrics.Conflicts.WithLabelValues("in-flight").Inc()
		c.log.Debug("rejecting proposal, another proposal is in flight",
			zap.Stringer("item", p.Item), zap.String("in_flight", e.InFlight.ClassName))
		return p.Reject(e.InFlight.ClassName)
	}

	if !p.Duplicate && (!ok || e.InFlight == nil) {
		e = c.pending.Ensure(k)
		e.InFlight = &pending.InFlight{
			ProposalID: p.MessageID,
			ClassName:  p.Item.ClassName,
			Deadline:   c.now().Add(c.timeout),
		}
		metrics.Pending.Set(float64(c.pending.Len()))
	}
	return p
}

func (c *Coordinator) onAccepted(a mapping.Accepted) {
	if !c.markSeen(a.MessageID.String()) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.applyLocked(a.Item); err != nil {
		c.log.Error("failed to install accepted mapping", zap.Stringer("item", a.Item), zap.Error(err))
	}
	metrics.Pending.Set(float64(c.pending.Len()))
}

// applyLocked installs item and releases the waiters of its key.
func (c *Coordinator) applyLocked(item mapping.Item) error {
	k := item.Key()
	added, err := c.store.Put(item)
	e, hasEntry := c.pending.Lookup(k)

	if err != nil {
		if errors.Is(err, mapping.ErrInvariantViolation) {
			metrics.InvariantViolations.Inc()
		} else {
			// The cluster accepted item but this node lost it. Callers may
			// retry once the node recovered its state.
			metrics.StoreFailures.Inc()
			err = fmt.Errorf("%w: persist %s: %w", mapping.ErrMappingTimeout, item, err)
		}
		if c.fault == nil {
			c.fault = err
		}
		if hasEntry && e.Waiting() {
			e.Future.Fail(err)
		}
		c.pending.Remove(k)
		return err
	}
	if added {
		metrics.Accepted.Inc()
		c.log.Info("mapping accepted", zap.Stringer("item", item))
	}
	if !hasEntry {
		return nil
	}

	if e.Waiting() {
		if e.Local() && e.ClassName != item.ClassName {
			metrics.Conflicts.WithLabelValues("accepted").Inc()
			e.Future.Fail(conflictErr(k, item.ClassName, e.ClassName))
		} else {
			e.Future.Complete(item.ClassName)
		}
	}
	c.pending.Remove(k)
	return nil
}

func (c *Coordinator) onRejected(r mapping.Rejected) {
	if !c.markSeen(r.MessageID.String()) {
		return
	}
	k := r.Item.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending.Lookup(k)
	if !ok {
		return
	}
	if e.InFlight != nil && e.InFlight.ProposalID == r.ProposalID {
		e.InFlight = nil
	}
	// The class lost the key, so every local waiter for it loses too.
	if e.Local() && e.ClassName == r.Item.ClassName {
		metrics.Conflicts.WithLabelValues("rejected").Inc()
		e.Future.Fail(r.Err())
		e.Future, e.ClassName, e.ProposalID, e.Deadline = nil, "", uuid.Nil, time.Time{}
	}
	c.pending.Prune(e)
	metrics.Pending.Set(float64(c.pending.Len()))
	if r.Origin == c.id {
		c.log.Info("mapping rejected", zap.Stringer("item", r.Item), zap.String("conflicting", r.Conflicting))
	}
}

// onAborted forgets a proposal whose traversal failed. Local waiters of that
// proposal fail at once instead of sitting out the timeout.
func (c *Coordinator) onAborted(a mapping.Aborted) {
	if !c.markSeen(a.MessageID.String()) {
		return
	}
	k := a.Item.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending.Lookup(k)
	if !ok {
		return
	}
	attached := false
	if e.InFlight != nil && e.InFlight.ProposalID == a.ProposalID {
		e.InFlight = nil
		attached = e.ProposalID == uuid.Nil
	}
	if e.Local() && (e.ProposalID == a.ProposalID || attached) {
		metrics.Aborts.Inc()
		e.Future.Fail(a.Err())
		e.Future, e.ClassName, e.ProposalID, e.Deadline = nil, "", uuid.Nil, time.Time{}
	}
	c.pending.Prune(e)
	metrics.Pending.Set(float64(c.pending.Len()))
	if a.Origin == c.id {
		c.log.Warn("mapping proposal aborted", zap.Stringer("item", a.Item), zap.Stringer("proposal", a.ProposalID))
	}
}

// markSeen records id and reports whether it was new.
func (c *Coordinator) markSeen(id string) bool {
	return c.seen.Add(id, struct{}{}, cache.DefaultExpiration) == nil
}

// OnMembershipChange rebuilds the topology cache, reusing the previous one
// when the reuse strategy allows it.
func (c *Coordinator) OnMembershipChange(ev discovery.MembershipEvent) {
	c.mu.Lock()
	prev := c.topology
	if ev.Version.Compare(prev.Version) < 0 {
		c.mu.Unlock()
		c.log.Debug("ignoring stale membership event",
			zap.Stringer("version", ev.Version), zap.Stringer("current", prev.Version))
		return
	}
	var next *discovery.Cache
	if r := c.reuser(ev.Members); r != nil {
		next = r.ReuseCache(c.strategy, ev.Version, prev)
	}
	reused := next != nil
	if next == nil {
		next = discovery.NewCache(ev.Version, ev.Members)
	}
	c.topology = next
	c.mu.Unlock()

	metrics.TopologyVersion.Set(float64(ev.Version.Major))
	c.log.Info("membership changed",
		zap.Stringer("event", ev.Type),
		zap.String("member", ev.NodeID),
		zap.Stringer("version", ev.Version),
		zap.Strings("members", ev.Members),
		zap.Bool("cache_reused", reused))
}
