package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geogate/errors"
)

type fakeHandle struct {
	closes atomic.Int32
	cause  atomic.Value
	err    error
}

func (h *fakeHandle) Close(cause Cause) error {
	h.closes.Add(1)
	h.cause.Store(cause)
	return h.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRegistry_InsertLookupLen(t *testing.T) {
	r := New()
	h := &fakeHandle{}

	require.NoError(t, r.Insert("client_1", h))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup("client_1")
	assert.True(t, ok)
	assert.Same(t, h, got)

	_, ok = r.Lookup("client_2")
	assert.False(t, ok)
}

func TestRegistry_InsertDuplicateIsFatal(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("dup", &fakeHandle{}))

	err := r.Insert("dup", &fakeHandle{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.Is(err, errors.ErrDuplicateID))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_InsertNilHandle(t *testing.T) {
	err := New().Insert("x", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_TouchAbsentIsNoop(t *testing.T) {
	r := New()
	assert.False(t, r.Touch("ghost"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_TouchUpdatesLastActive(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	require.NoError(t, r.Insert("a", &fakeHandle{}))

	clock.Advance(time.Minute)
	assert.True(t, r.Touch("a"))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, clock.Now(), snap[0].LastActive)
	assert.Equal(t, clock.Now().Add(-time.Minute), snap[0].ConnectedAt)
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := New()
	h := &fakeHandle{}
	require.NoError(t, r.Insert("a", h))

	got, ok := r.Remove("a")
	assert.True(t, ok)
	assert.Same(t, h, got)

	got, ok = r.Remove("a")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRegistry_ConcurrentRemoveSingleWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := New()
		require.NoError(t, r.Insert("contended", &fakeHandle{}))

		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, ok := r.Remove("contended"); ok {
					winners.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), winners.Load(), "round %d", round)
	}
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	require.NoError(t, r.Insert("c", &fakeHandle{}))
	require.NoError(t, r.Insert("b", &fakeHandle{}))
	clock.Advance(time.Second)
	require.NoError(t, r.Insert("a", &fakeHandle{}))
	clock.Advance(time.Second)
	r.Touch("c")

	snap := r.Snapshot()
	ids := make([]string, len(snap))
	for i, e := range snap {
		ids[i] = e.ID
	}
	// b is oldest; a next; c most recently touched
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("a", &fakeHandle{}))

	snap := r.Snapshot()
	r.Remove("a")

	assert.Len(t, snap, 1)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Drain(t *testing.T) {
	r := New()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Insert(fmt.Sprintf("c%d", i), &fakeHandle{}))
	}

	drained := r.Drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, "c0", drained[0].ID)
	assert.Equal(t, 0, r.Len())

	_, ok := r.Remove("c1")
	assert.False(t, ok, "drained entries are already claimed")
}

func TestRegistry_ConcurrentMixedOperations(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("g%d_%d", g, i)
				assert.NoError(t, r.Insert(id, &fakeHandle{}))
				r.Touch(id)
				_ = r.Snapshot()
				_, _ = r.Lookup(id)
				if i%2 == 0 {
					r.Remove(id)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 8*100, r.Len())
}
