// Package ring places cluster members on a fixed slot ring. The ring fixes the
// order in which discovery messages visit members and which member is the head
// that sequences them.
package ring

import (
	"sort"

	"mapring/utils"
)

type Member struct {
	ID   string
	Slot uint16
}

// Ring is a set of members sorted by slot, ties broken by ID.
type Ring []Member

func (r Ring) Len() int {
	return len(r)
}

func (r Ring) Less(i, j int) bool {
	if r[i].Slot != r[j].Slot {
		return r[i].Slot < r[j].Slot
	}
	return r[i].ID < r[j].ID
}

func (r Ring) Swap(i, j int) {
	r[i], r[j] = r[j], r[i]
}

// New builds a ring from member ids. Duplicates are ignored.
func New(ids []string) Ring {
	r := make(Ring, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		r = append(r, Member{ID: id, Slot: utils.Slot(id)})
	}
	sort.Sort(r)
	return r
}

// Add returns a new ring that also contains id.
func (r Ring) Add(id string) Ring {
	return New(append(r.IDs(), id))
}

// Remove returns a new ring without id.
func (r Ring) Remove(id string) Ring {
	out := make(Ring, 0, len(r))
	for _, m := range r {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// IDs returns member ids in traversal order, head first.
func (r Ring) IDs() []string {
	ids := make([]string, len(r))
	for i, m := range r {
		ids[i] = m.ID
	}
	return ids
}

// Head is the member that sequences discovery messages. Empty for an empty ring.
func (r Ring) Head() string {
	if len(r) == 0 {
		return ""
	}
	return r[0].ID
}
