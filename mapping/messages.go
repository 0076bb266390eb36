package mapping

import (
	"fmt"

	"github.com/google/uuid"

	"mapring/discovery"
)

// Proposal asks the ring to accept Item. It is the only message rewritten in
// transit: each member returns a copy, possibly marked duplicate or rejected.
// Rejection is final.
type Proposal struct {
	MessageID uuid.UUID
	// Origin is the id of the node whose caller requested the binding.
	Origin string
	Item   Item
	// Duplicate is set when the same binding is already accepted or in flight.
	Duplicate bool
	// Conflicting holds the class name that won the key; non-empty means rejected.
	Conflicting string
}

func NewProposal(origin string, item Item) Proposal {
	return Proposal{MessageID: uuid.New(), Origin: origin, Item: item}
}

func (p Proposal) ID() uuid.UUID {
	return p.MessageID
}

func (p Proposal) Mutable() bool {
	return true
}

func (p Proposal) Rejected() bool {
	return p.Conflicting != ""
}

// MarkDuplicate returns p flagged as a duplicate.
func (p Proposal) MarkDuplicate() Proposal {
	p.Duplicate = true
	return p
}

// Reject returns p rejected in favour of existing. The first rejection wins.
func (p Proposal) Reject(existing string) Proposal {
	if p.Rejected() || existing == "" {
		return p
	}
	p.Conflicting = existing
	return p
}

// AckMessage accepts an unmarked proposal, reports a rejected one back to its
// origin and drops a duplicate.
func (p Proposal) AckMessage() discovery.CustomMessage {
	switch {
	case p.Rejected():
		return Rejected{
			MessageID:   uuid.New(),
			ProposalID:  p.MessageID,
			Origin:      p.Origin,
			Item:        p.Item,
			Conflicting: p.Conflicting,
		}
	case p.Duplicate:
		return nil
	default:
		return Accepted{MessageID: uuid.New(), Item: p.Item}
	}
}

// AbortMessage tells the ring that p did not complete its traversal.
func (p Proposal) AbortMessage() discovery.CustomMessage {
	return Aborted{
		MessageID:  uuid.New(),
		ProposalID: p.MessageID,
		Origin:     p.Origin,
		Item:       p.Item,
	}
}

func (p Proposal) ReuseCache(discovery.ReuseStrategy, discovery.TopologyVersion, *discovery.Cache) *discovery.Cache {
	return nil
}

func (p Proposal) String() string {
	return fmt.Sprintf("Proposal[id=%s, origin=%s, item=%s, duplicate=%t, conflicting=%s]",
		p.MessageID, p.Origin, p.Item, p.Duplicate, p.Conflicting)
}

// Accepted commits Item on every node and releases its waiters.
type Accepted struct {
	MessageID uuid.UUID
	Item      Item
}

func (a Accepted) ID() uuid.UUID {
	return a.MessageID
}

func (a Accepted) Mutable() bool {
	return false
}

func (a Accepted) AckMessage() discovery.CustomMessage {
	return nil
}

func (a Accepted) ReuseCache(discovery.ReuseStrategy, discovery.TopologyVersion, *discovery.Cache) *discovery.Cache {
	return nil
}

func (a Accepted) String() string {
	return fmt.Sprintf("Accepted[id=%s, item=%s]", a.MessageID, a.Item)
}

// Rejected tells the origin of ProposalID that Item lost to Conflicting.
type Rejected struct {
	MessageID   uuid.UUID
	ProposalID  uuid.UUID
	Origin      string
	Item        Item
	Conflicting string
}

func (r Rejected) ID() uuid.UUID {
	return r.MessageID
}

func (r Rejected) Mutable() bool {
	return false
}

func (r Rejected) AckMessage() discovery.CustomMessage {
	return nil
}

func (r Rejected) ReuseCache(discovery.ReuseStrategy, discovery.TopologyVersion, *discovery.Cache) *discovery.Cache {
	return nil
}

// Err is the error the origin's waiters fail with.
func (r Rejected) Err() error {
	return fmt.Errorf("%w: %s is already bound to %s, requested %s",
		ErrMappingConflict, r.Item.Key(), r.Conflicting, r.Item.ClassName)
}

func (r Rejected) String() string {
	return fmt.Sprintf("Rejected[id=%s, proposal=%s, origin=%s, item=%s, conflicting=%s]",
		r.MessageID, r.ProposalID, r.Origin, r.Item, r.Conflicting)
}

// Aborted withdraws ProposalID after its traversal failed at a member. Nodes
// forget the proposal and its origin's waiters fail so the caller can retry.
type Aborted struct {
	MessageID  uuid.UUID
	ProposalID uuid.UUID
	Origin     string
	Item       Item
}

func (a Aborted) ID() uuid.UUID {
	return a.MessageID
}

func (a Aborted) Mutable() bool {
	return false
}

func (a Aborted) AckMessage() discovery.CustomMessage {
	return nil
}

func (a Aborted) ReuseCache(discovery.ReuseStrategy, discovery.TopologyVersion, *discovery.Cache) *discovery.Cache {
	return nil
}

func (a Aborted) Err() error {
	return fmt.Errorf("%w: proposal %s for %s did not complete its ring traversal",
		ErrMappingTimeout, a.ProposalID, a.Item)
}

func (a Aborted) String() string {
	return fmt.Sprintf("Aborted[id=%s, proposal=%s, origin=%s, item=%s]",
		a.MessageID, a.ProposalID, a.Origin, a.Item)
}
