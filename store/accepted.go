// Package store keeps the bindings this node knows to be accepted by the
// cluster. Entries are append-only.
package store

import (
	"fmt"
	"sort"
	"sync"

	"mapring/mapping"
)

// Backend persists accepted bindings across restarts.
type Backend interface {
	PutMapping(item mapping.Item) error
	LoadMappings() ([]mapping.Item, error)
}

type Accepted struct {
	mu      sync.RWMutex
	entries map[mapping.Key]string
	backend Backend
}

// New returns an empty store. backend may be nil for a memory-only store.
func New(backend Backend) *Accepted {
	return &Accepted{entries: make(map[mapping.Key]string), backend: backend}
}

// Load replays the backend into memory. Conflicting entries in the backend
// are reported as invariant violations.
func (a *Accepted) Load() error {
	if a.backend == nil {
		return nil
	}
	items, err := a.backend.LoadMappings()
	if err != nil {
		return fmt.Errorf("load accepted mappings: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, it := range items {
		if cur, ok := a.entries[it.Key()]; ok && cur != it.ClassName {
			return fmt.Errorf("%w: stored %s binds both %s and %s",
				mapping.ErrInvariantViolation, it.Key(), cur, it.ClassName)
		}
		a.entries[it.Key()] = it.ClassName
	}
	return nil
}

func (a *Accepted) Get(k mapping.Key) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	name, ok := a.entries[k]
	return name, ok
}

// Put installs item. It returns true when the key was new. Installing the
// same binding again is a no-op; a different class name for a bound key
// fails with ErrInvariantViolation and leaves the store unchanged.
func (a *Accepted) Put(item mapping.Item) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name, ok := a.entries[item.Key()]; ok {
		cur := mapping.Item{PlatformID: item.PlatformID, TypeID: item.TypeID, ClassName: name}
		if cur.ConflictsWith(item) {
			return false, fmt.Errorf("%w: %s is bound to %s, accepted message says %s",
				mapping.ErrInvariantViolation, item.Key(), name, item.ClassName)
		}
		return false, nil
	}
	if a.backend != nil {
		if err := a.backend.PutMapping(item); err != nil {
			return false, err
		}
	}
	a.entries[item.Key()] = item.ClassName
	return true, nil
}

// Snapshot returns all bindings ordered by key.
func (a *Accepted) Snapshot() []mapping.Item {
	a.mu.RLock()
	out := make([]mapping.Item, 0, len(a.entries))
	for k, name := range a.entries {
		out = append(out, mapping.Item{PlatformID: k.PlatformID, TypeID: k.TypeID, ClassName: name})
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PlatformID != out[j].PlatformID {
			return out[i].PlatformID < out[j].PlatformID
		}
		return out[i].TypeID < out[j].TypeID
	})
	return out
}

func (a *Accepted) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
