package pending

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"mapring/mapping"
)

// InFlight is the first unmarked proposal for a key this node has seen pass.
type InFlight struct {
	ProposalID uuid.UUID
	ClassName  string
	Deadline   time.Time
}

// Expired reports whether the record outlived its deadline. A traversal that
// outlives it was lost, so the record no longer blocks other proposals.
func (f *InFlight) Expired(now time.Time) bool {
	return f != nil && now.After(f.Deadline)
}

// Entry is the pending state of one key. A local request has ClassName set;
// an entry created by AwaitMapping has only a Future.
type Entry struct {
	Key        mapping.Key
	ClassName  string
	ProposalID uuid.UUID
	Future     *Future
	Deadline   time.Time
	InFlight   *InFlight
}

// Local reports whether a caller on this node asked for a class name.
func (e *Entry) Local() bool {
	return e.ClassName != ""
}

// Waiting reports whether anyone on this node waits on the entry.
func (e *Entry) Waiting() bool {
	return e.Future != nil
}

// Registry is the per-node pending table. It is not safe for concurrent
// use; the owning coordinator guards it.
type Registry struct {
	entries map[mapping.Key]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[mapping.Key]*Entry)}
}

func (r *Registry) Lookup(k mapping.Key) (*Entry, bool) {
	e, ok := r.entries[k]
	return e, ok
}

// Ensure returns the entry for k, creating an empty one if needed.
func (r *Registry) Ensure(k mapping.Key) *Entry {
	e, ok := r.entries[k]
	if !ok {
		e = &Entry{Key: k}
		r.entries[k] = e
	}
	return e
}

func (r *Registry) Remove(k mapping.Key) {
	delete(r.entries, k)
}

// Prune removes e if it no longer carries local or in-flight state.
func (r *Registry) Prune(e *Entry) {
	if !e.Waiting() && e.InFlight == nil {
		delete(r.entries, e.Key)
	}
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Entries returns the entries ordered by key.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.PlatformID != b.PlatformID {
			return a.PlatformID < b.PlatformID
		}
		return a.TypeID < b.TypeID
	})
	return out
}

// Expire returns the entries whose local deadline passed and drops expired
// in-flight records. Returned entries are detached from their waiters and
// must be failed by the caller.
func (r *Registry) Expire(now time.Time) []*Entry {
	var expired []*Entry
	for k, e := range r.entries {
		if e.InFlight.Expired(now) {
			e.InFlight = nil
		}
		if e.Waiting() && !e.Deadline.IsZero() && now.After(e.Deadline) {
			expired = append(expired, &Entry{
				Key:        e.Key,
				ClassName:  e.ClassName,
				ProposalID: e.ProposalID,
				Future:     e.Future,
				Deadline:   e.Deadline,
			})
			e.Future, e.ClassName, e.ProposalID, e.Deadline = nil, "", uuid.Nil, time.Time{}
		}
		if !e.Waiting() && e.InFlight == nil {
			delete(r.entries, k)
		}
	}
	return expired
}
