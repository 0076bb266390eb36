package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapring/engine"
	"mapring/mapping"
)

type failingBackend struct{}

func (failingBackend) PutMapping(mapping.Item) error           { return errors.New("disk full") }
func (failingBackend) LoadMappings() ([]mapping.Item, error) { return nil, nil }

func TestPutIsAppendOnly(t *testing.T) {
	s := New(nil)
	bar := mapping.Item{TypeID: 101, ClassName: "com.foo.Bar"}
	baz := mapping.Item{TypeID: 101, ClassName: "com.foo.Baz"}

	added, err := s.Put(bar)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Put(bar)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.Put(baz)
	assert.ErrorIs(t, err, mapping.ErrInvariantViolation)

	name, ok := s.Get(bar.Key())
	require.True(t, ok)
	assert.Equal(t, "com.foo.Bar", name)
	assert.Equal(t, 1, s.Len())
}

func TestPutBackendFailureLeavesStoreUnchanged(t *testing.T) {
	s := New(failingBackend{})
	_, err := s.Put(mapping.Item{TypeID: 1, ClassName: "a.A"})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotOrdered(t *testing.T) {
	s := New(nil)
	for _, it := range []mapping.Item{
		{PlatformID: 1, TypeID: 5, ClassName: "c"},
		{PlatformID: 0, TypeID: 9, ClassName: "b"},
		{PlatformID: 0, TypeID: -1, ClassName: "a"},
	} {
		_, err := s.Put(it)
		require.NoError(t, err)
	}
	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].ClassName)
	assert.Equal(t, "b", snap[1].ClassName)
	assert.Equal(t, "c", snap[2].ClassName)
}

func TestLoadFromPebble(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	e, err := engine.NewEngine(dir)
	require.NoError(t, err)

	s := New(e)
	_, err = s.Put(mapping.Item{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = engine.NewEngine(dir)
	require.NoError(t, err)
	defer e.Close()

	restored := New(e)
	require.NoError(t, restored.Load())
	name, ok := restored.Get(mapping.Key{PlatformID: 0, TypeID: 101})
	require.True(t, ok)
	assert.Equal(t, "com.foo.Bar", name)
}
