package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapring/discovery"
)

func TestNewItem(t *testing.T) {
	tests := []struct {
		name      string
		className string
		wantErr   bool
	}{
		{name: "plain", className: "com.foo.Bar"},
		{name: "nested", className: "com.foo.Bar$Inner"},
		{name: "empty", className: "", wantErr: true},
		{name: "space", className: "com.foo Bar", wantErr: true},
		{name: "tab", className: "com.foo\tBar", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := NewItem(0, 101, tt.className)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidItem)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Key{PlatformID: 0, TypeID: 101}, item.Key())
		})
	}
}

func TestConflictsWith(t *testing.T) {
	bar := Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"}
	baz := Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Baz"}
	otherPlatform := Item{PlatformID: 1, TypeID: 101, ClassName: "com.foo.Baz"}

	assert.True(t, bar.ConflictsWith(baz))
	assert.False(t, bar.ConflictsWith(bar))
	assert.False(t, bar.ConflictsWith(otherPlatform))
}

func TestTypeID(t *testing.T) {
	// Same values as the 31-multiplier hash of the lower-cased name.
	assert.Equal(t, int32(97), TypeID("a"))
	assert.Equal(t, int32(3105), TypeID("AB"))
	assert.Equal(t, TypeID("com.foo.bar"), TypeID("com.foo.Bar"))
	assert.NotEqual(t, TypeID("com.foo.Bar"), TypeID("com.foo.Baz"))
	assert.Equal(t, int32(0), TypeID(""))
}

func TestProposalMarkersAreMonotone(t *testing.T) {
	item := Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"}
	p := NewProposal("node-a", item)
	assert.True(t, p.Mutable())
	assert.False(t, p.Rejected())

	rejected := p.Reject("com.foo.Baz")
	assert.True(t, rejected.Rejected())
	assert.False(t, p.Rejected(), "Reject must not alter the receiver")

	again := rejected.Reject("com.foo.Qux")
	assert.Equal(t, "com.foo.Baz", again.Conflicting)

	assert.Equal(t, p, p.Reject(""))
}

func TestProposalAck(t *testing.T) {
	item := Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"}
	p := NewProposal("node-a", item)

	acc, ok := p.AckMessage().(Accepted)
	require.True(t, ok)
	assert.Equal(t, item, acc.Item)
	assert.NotEqual(t, p.ID(), acc.ID())
	assert.False(t, acc.Mutable())
	assert.Nil(t, acc.AckMessage())

	assert.Nil(t, p.MarkDuplicate().AckMessage())

	rej, ok := p.MarkDuplicate().Reject("com.foo.Baz").AckMessage().(Rejected)
	require.True(t, ok, "rejection outranks duplicate")
	assert.Equal(t, p.ID(), rej.ProposalID)
	assert.Equal(t, "node-a", rej.Origin)
	assert.True(t, errors.Is(rej.Err(), ErrMappingConflict))
	assert.Contains(t, rej.Err().Error(), "com.foo.Baz")
}

func TestProposalAbort(t *testing.T) {
	p := NewProposal("node-a", Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"})

	var msg discovery.CustomMessage = p
	a, ok := msg.(discovery.Abortable)
	require.True(t, ok)

	ab, ok := a.AbortMessage().(Aborted)
	require.True(t, ok)
	assert.Equal(t, p.ID(), ab.ProposalID)
	assert.Equal(t, "node-a", ab.Origin)
	assert.NotEqual(t, p.ID(), ab.ID())
	assert.False(t, ab.Mutable())
	assert.Nil(t, ab.AckMessage())
	assert.ErrorIs(t, ab.Err(), ErrMappingTimeout)
}

func TestMessagesNeverReuseCache(t *testing.T) {
	prev := discovery.NewCache(discovery.TopologyVersion{Major: 1}, []string{"a"})
	next := discovery.TopologyVersion{Major: 1, Minor: 1}
	msgs := []discovery.CustomMessage{
		NewProposal("a", Item{ClassName: "x"}),
		Accepted{},
		Rejected{},
		Aborted{},
	}
	for _, m := range msgs {
		assert.Nil(t, m.ReuseCache(discovery.ReuseSameMembers, next, prev))
	}
}
