package discovery

import (
	"fmt"
	"slices"
)

// TopologyVersion increases by Major on membership changes and by Minor on
// completed custom messages.
type TopologyVersion struct {
	Major uint64
	Minor uint32
}

func (v TopologyVersion) NextMajor() TopologyVersion {
	return TopologyVersion{Major: v.Major + 1}
}

func (v TopologyVersion) NextMinor() TopologyVersion {
	return TopologyVersion{Major: v.Major, Minor: v.Minor + 1}
}

// Compare returns -1, 0 or 1.
func (v TopologyVersion) Compare(o TopologyVersion) int {
	switch {
	case v.Major < o.Major:
		return -1
	case v.Major > o.Major:
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	}
	return 0
}

func (v TopologyVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Cache is state derived from one topology version.
type Cache struct {
	Version TopologyVersion
	Members []string
}

func NewCache(version TopologyVersion, members []string) *Cache {
	return &Cache{Version: version, Members: slices.Clone(members)}
}

func (c *Cache) Head() string {
	if c == nil || len(c.Members) == 0 {
		return ""
	}
	return c.Members[0]
}

// ReuseStrategy controls whether a topology cache may outlive its version.
type ReuseStrategy int

const (
	// ReuseNever recomputes the cache on every version change.
	ReuseNever ReuseStrategy = iota
	// ReuseSameMembers keeps the cache while the member list is unchanged.
	ReuseSameMembers
)

// ParseReuseStrategy accepts "never" and "same-members".
func ParseReuseStrategy(s string) (ReuseStrategy, error) {
	switch s {
	case "", "never":
		return ReuseNever, nil
	case "same-members":
		return ReuseSameMembers, nil
	}
	return ReuseNever, fmt.Errorf("unknown reuse strategy %q", s)
}

// CacheReuser decides whether prev can serve version. A nil result means the
// caller recomputes.
type CacheReuser interface {
	ReuseCache(strategy ReuseStrategy, version TopologyVersion, prev *Cache) *Cache
}

// ReuseFunc adapts a function to CacheReuser.
type ReuseFunc func(strategy ReuseStrategy, version TopologyVersion, prev *Cache) *Cache

func (f ReuseFunc) ReuseCache(strategy ReuseStrategy, version TopologyVersion, prev *Cache) *Cache {
	return f(strategy, version, prev)
}

// ReuseIfSameMembers returns a CacheReuser that reuses prev under
// ReuseSameMembers when members matches prev's member list.
func ReuseIfSameMembers(members []string) CacheReuser {
	return ReuseFunc(func(strategy ReuseStrategy, version TopologyVersion, prev *Cache) *Cache {
		if strategy != ReuseSameMembers || prev == nil || !slices.Equal(prev.Members, members) {
			return nil
		}
		return &Cache{Version: version, Members: prev.Members}
	})
}
