package disk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittocache/pkg/cache"
)

// mapBackend is an in-memory Backend. Updates can be held at a gate to
// simulate a slow disk, or made to fail.
type mapBackend struct {
	mu       sync.Mutex
	data     map[string]*cache.Element
	gate     chan struct{}
	entered  chan string
	failWith error
	gets     int
	disposed bool
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: map[string]*cache.Element{}}
}

func (b *mapBackend) Get(_ context.Context, key string) (*cache.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	e, ok := b.data[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return e.Clone(), nil
}

func (b *mapBackend) Update(_ context.Context, e *cache.Element) error {
	if b.entered != nil {
		b.entered <- e.Key
	}
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.data[e.Key] = e.Clone()
	return nil
}

func (b *mapBackend) Remove(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	delete(b.data, key)
	return ok, nil
}

func (b *mapBackend) RemoveAll(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = map[string]*cache.Element{}
	return nil
}

func (b *mapBackend) Keys(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *mapBackend) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *mapBackend) Stats() cache.Stats {
	s := cache.Stats{TypeName: "Map Backend"}
	s.Add("size", b.Size())
	return s
}

func (b *mapBackend) Dispose(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
	return nil
}

func (b *mapBackend) isDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

func (b *mapBackend) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok
}

func newTestCache(t *testing.T, b Backend, mutate ...func(*Config)) *Cache {
	t.Helper()
	cfg := DefaultConfig("test")
	cfg.ShutdownSpoolTimeLimit = 5 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	c := New(cfg, b)
	t.Cleanup(func() { _ = c.Dispose(context.Background()) })
	return c
}

func drain(t *testing.T, c *Cache) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitDrained(ctx))
}

func elem(key, value string) *cache.Element {
	return cache.NewElement(key, []byte(value))
}

// ============================================================================
// Read your writes
// ============================================================================

func TestGetReturnsStagedElementBeforeDrain(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	c := newTestCache(t, b)

	require.NoError(t, c.Update(ctx, elem("k", "v1")))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got.Value))
	assert.Zero(t, b.gets, "staged read must not touch the backend")
	assert.Equal(t, 1, c.PurgatorySize())

	close(b.gate)
	drain(t, c)

	assert.True(t, b.has("k"))
	assert.Zero(t, c.PurgatorySize())

	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got.Value))
}

func TestReadYourWritesUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newMapBackend())

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			for i := range 200 {
				key := fmt.Sprintf("w%d-%d", w, i)
				val := fmt.Sprintf("%d", i)
				if err := c.Update(ctx, elem(key, val)); err != nil {
					return err
				}
				got, err := c.Get(ctx, key)
				if err != nil {
					return fmt.Errorf("get %s: %w", key, err)
				}
				if string(got.Value) != val {
					return fmt.Errorf("get %s = %q, want %q", key, got.Value, val)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestStagedCopyIsIsolated(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	c := newTestCache(t, b)

	e := elem("k", "abc")
	require.NoError(t, c.Update(ctx, e))
	e.Value[0] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got.Value))
	close(b.gate)
}

func TestMissReturnsNotFound(t *testing.T) {
	c := newTestCache(t, newMapBackend())
	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

// ============================================================================
// Remove
// ============================================================================

func TestRemoveBeforeDrainIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	b.entered = make(chan string, 4)
	c := newTestCache(t, b)

	// Park the worker on a first write so the second stays queued.
	require.NoError(t, c.Update(ctx, elem("blocker", "x")))
	<-b.entered
	require.NoError(t, c.Update(ctx, elem("k", "v")))

	removed, err := c.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed, "staged element counts as present")

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	close(b.gate)
	drain(t, c)

	assert.False(t, b.has("k"), "cancelled write reached the backend")
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRemoveWaitsForInFlightWrite(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	b.entered = make(chan string, 1)
	c := newTestCache(t, b)

	require.NoError(t, c.Update(ctx, elem("k", "v")))
	<-b.entered // drain holds the element and is writing

	done := make(chan bool)
	go func() {
		removed, err := c.Remove(ctx, "k")
		assert.NoError(t, err)
		done <- removed
	}()

	select {
	case <-done:
		t.Fatal("Remove returned while the write was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(b.gate)
	assert.True(t, <-done)
	drain(t, c)
	assert.False(t, b.has("k"))
}

func TestRemoveWaitsForReplacedInFlightWrite(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	b.entered = make(chan string, 4)
	c := newTestCache(t, b)

	require.NoError(t, c.Update(ctx, elem("k", "v1")))
	<-b.entered // v1 is being written

	// v2 replaces v1 in purgatory while v1 is still in flight.
	require.NoError(t, c.Update(ctx, elem("k", "v2")))

	done := make(chan bool)
	go func() {
		removed, err := c.Remove(ctx, "k")
		assert.NoError(t, err)
		done <- removed
	}()

	select {
	case <-done:
		t.Fatal("Remove returned while the replaced write was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(b.gate)
	assert.True(t, <-done)
	drain(t, c)

	assert.False(t, b.has("k"))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRemoveReportsPresence(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newMapBackend())

	removed, err := c.Remove(ctx, "never")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, c.Update(ctx, elem("k", "v")))
	drain(t, c)

	removed, err = c.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)
}

// ============================================================================
// RemoveAll
// ============================================================================

func TestRemoveAllConcurrentWithInFlightPut(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	b.entered = make(chan string, 1)
	c := newTestCache(t, b)

	require.NoError(t, c.Update(ctx, elem("k", "v")))
	<-b.entered // the write has started

	done := make(chan error)
	go func() { done <- c.RemoveAll(ctx) }()

	// RemoveAll must wait for the in-flight write, then clear it.
	select {
	case <-done:
		t.Fatal("RemoveAll did not wait for the in-flight write")
	case <-time.After(20 * time.Millisecond):
	}
	close(b.gate)
	require.NoError(t, <-done)
	drain(t, c)

	assert.False(t, b.has("k"))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRemoveAllCancelsQueuedWrites(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	b.entered = make(chan string, 8)
	c := newTestCache(t, b)

	require.NoError(t, c.Update(ctx, elem("first", "x")))
	<-b.entered
	for i := range 5 {
		require.NoError(t, c.Update(ctx, elem(fmt.Sprint(i), "v")))
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(b.gate)
	}()
	require.NoError(t, c.RemoveAll(ctx))
	drain(t, c)

	assert.Zero(t, b.Size())
	assert.Zero(t, c.PurgatorySize())
}

func TestRemoveAllDisallowed(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	c := newTestCache(t, b, func(cfg *Config) { cfg.AllowRemoveAll = false })

	require.NoError(t, c.Update(ctx, elem("k", "v")))
	drain(t, c)
	require.NoError(t, c.RemoveAll(ctx))
	assert.True(t, b.has("k"))
}

// ============================================================================
// Bounded purgatory
// ============================================================================

func TestBoundedPurgatoryDropsOldestStagedWrite(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	b.entered = make(chan string, 8)
	c := newTestCache(t, b, func(cfg *Config) { cfg.MaxPurgatorySize = 2 })

	require.NoError(t, c.Update(ctx, elem("blocker", "x")))
	<-b.entered
	// blocker is still staged; a and b fill the purgatory past 2.
	require.NoError(t, c.Update(ctx, elem("a", "1")))
	require.NoError(t, c.Update(ctx, elem("b", "2")))

	close(b.gate)
	drain(t, c)

	v, ok := c.Stats().Lookup("purgatory_dropped")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
	assert.True(t, b.has("a"))
	assert.True(t, b.has("b"))
}

// ============================================================================
// Matching
// ============================================================================

func TestGetMatchingPrefersStaged(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	c := newTestCache(t, b)

	require.NoError(t, c.Update(ctx, elem("user:1", "disk")))
	require.NoError(t, c.Update(ctx, elem("user:2", "disk")))
	require.NoError(t, c.Update(ctx, elem("other", "disk")))
	drain(t, c)

	b.gate = make(chan struct{})
	b.entered = make(chan string, 1)
	require.NoError(t, c.Update(ctx, elem("user:1", "staged")))
	<-b.entered

	got, err := c.GetMatching(ctx, "user:.*")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "staged", string(got["user:1"].Value))
	assert.Equal(t, "disk", string(got["user:2"].Value))

	multi, err := c.GetMultiple(ctx, []string{"user:2", "missing", "other"})
	require.NoError(t, err)
	assert.Len(t, multi, 2)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2", "other"}, keys)

	close(b.gate)
}

// ============================================================================
// Failure & lifecycle
// ============================================================================

func TestFailedWriteDestroysQueue(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.failWith = errors.New("no space left on device")
	c := newTestCache(t, b)

	require.NoError(t, c.Update(ctx, elem("k", "v")))
	require.Eventually(t, func() bool { return c.Status() == cache.StatusError }, time.Second, time.Millisecond)

	err := c.Update(ctx, elem("k2", "v"))
	assert.Error(t, err)

	// The failed element is still readable from purgatory.
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got.Value))
}

func TestDisposeDrainsPendingWrites(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	c := New(DefaultConfig("dispose"), b)

	for i := range 50 {
		require.NoError(t, c.Update(ctx, elem(fmt.Sprint(i), "v")))
	}
	require.NoError(t, c.Dispose(ctx))
	require.NoError(t, c.Dispose(ctx))

	assert.Equal(t, 50, b.Size())
	assert.True(t, b.isDisposed())
	assert.Equal(t, cache.StatusDisposed, c.Status())

	assert.ErrorIs(t, c.Update(ctx, elem("late", "v")), cache.ErrDisposed)
	_, err := c.Get(ctx, "0")
	assert.ErrorIs(t, err, cache.ErrDisposed)
}

func TestDisposeTimeoutIsNotAnError(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	cfg := DefaultConfig("slow")
	cfg.ShutdownSpoolTimeLimit = 20 * time.Millisecond
	c := New(cfg, b)

	require.NoError(t, c.Update(ctx, elem("a", "1")))
	require.NoError(t, c.Update(ctx, elem("b", "2")))

	// Unblock the running write only after the limit has passed.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(b.gate)
	}()
	require.NoError(t, c.Dispose(ctx))

	assert.Eventually(t, b.isDisposed, 5*time.Second, time.Millisecond)
	assert.False(t, b.has("b"), "queued write should have been discarded")
}

func TestDisposeDoesNotWaitOnHungWrite(t *testing.T) {
	ctx := context.Background()
	b := newMapBackend()
	b.gate = make(chan struct{})
	b.entered = make(chan string, 1)
	cfg := DefaultConfig("hung")
	cfg.ShutdownSpoolTimeLimit = 20 * time.Millisecond
	c := New(cfg, b)

	require.NoError(t, c.Update(ctx, elem("a", "1")))
	<-b.entered

	start := time.Now()
	require.NoError(t, c.Dispose(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, b.isDisposed(), "backend is still being written")

	close(b.gate)
	assert.Eventually(t, b.isDisposed, 5*time.Second, time.Millisecond)
}

func TestUpdateRejectsEmptyKey(t *testing.T) {
	c := newTestCache(t, newMapBackend())
	assert.ErrorIs(t, c.Update(context.Background(), elem("", "v")), cache.ErrEmptyKey)
}
