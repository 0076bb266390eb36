package pending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapring/mapping"
)

func TestFutureCompletesOnce(t *testing.T) {
	f := NewFuture()
	_, done, _ := f.Result()
	assert.False(t, done)

	assert.True(t, f.Complete("com.foo.Bar"))
	assert.False(t, f.Fail(errors.New("late")))
	assert.False(t, f.Complete("com.foo.Baz"))

	name, done, err := f.Result()
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, "com.foo.Bar", name)
}

func TestFutureFanIn(t *testing.T) {
	f := NewFuture()
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := f.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = name
		}(i)
	}
	f.Complete("com.foo.Bar")
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, "com.foo.Bar", r)
	}
}

func TestFutureWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := NewFuture().Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	name, err := Completed("x").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", name)
}

func TestRegistryEnsureAndPrune(t *testing.T) {
	r := NewRegistry()
	k := mapping.Key{PlatformID: 0, TypeID: 101}

	e := r.Ensure(k)
	assert.Same(t, e, r.Ensure(k))
	assert.False(t, e.Local())
	assert.False(t, e.Waiting())

	r.Prune(e)
	_, ok := r.Lookup(k)
	assert.False(t, ok)

	e = r.Ensure(k)
	e.InFlight = &InFlight{ProposalID: uuid.New(), ClassName: "com.foo.Bar"}
	r.Prune(e)
	_, ok = r.Lookup(k)
	assert.True(t, ok)
}

func TestRegistryEntriesSorted(t *testing.T) {
	r := NewRegistry()
	r.Ensure(mapping.Key{PlatformID: 1, TypeID: 1})
	r.Ensure(mapping.Key{PlatformID: 0, TypeID: 7})
	r.Ensure(mapping.Key{PlatformID: 0, TypeID: -3})

	var keys []mapping.Key
	for _, e := range r.Entries() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []mapping.Key{{PlatformID: 0, TypeID: -3}, {PlatformID: 0, TypeID: 7}, {PlatformID: 1, TypeID: 1}}, keys)
}

func TestRegistryExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRegistry()

	local := r.Ensure(mapping.Key{TypeID: 1})
	local.ClassName = "a.A"
	local.ProposalID = uuid.New()
	local.Future = NewFuture()
	local.Deadline = now.Add(-time.Second)

	fresh := r.Ensure(mapping.Key{TypeID: 2})
	fresh.ClassName = "b.B"
	fresh.Future = NewFuture()
	fresh.Deadline = now.Add(time.Second)

	stale := r.Ensure(mapping.Key{TypeID: 3})
	stale.InFlight = &InFlight{ClassName: "c.C", Deadline: now.Add(-time.Second)}

	live := r.Ensure(mapping.Key{TypeID: 4})
	live.InFlight = &InFlight{ClassName: "d.D", Deadline: now.Add(time.Second)}

	expired := r.Expire(now)
	require.Len(t, expired, 1)
	assert.Equal(t, "a.A", expired[0].ClassName)
	assert.NotNil(t, expired[0].Future)

	_, ok := r.Lookup(mapping.Key{TypeID: 1})
	assert.False(t, ok)
	_, ok = r.Lookup(mapping.Key{TypeID: 2})
	assert.True(t, ok)
	_, ok = r.Lookup(mapping.Key{TypeID: 3})
	assert.False(t, ok, "expired in-flight record is dropped")
	_, ok = r.Lookup(mapping.Key{TypeID: 4})
	assert.True(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestInFlightExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	var none *InFlight
	assert.False(t, none.Expired(now))
	assert.False(t, (&InFlight{Deadline: now}).Expired(now))
	assert.True(t, (&InFlight{Deadline: now.Add(-time.Millisecond)}).Expired(now))
}
