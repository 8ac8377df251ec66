package lru

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spillRecorder struct {
	keys   []string
	values []int
}

func (r *spillRecorder) Spill(k string, v int) {
	r.keys = append(r.keys, k)
	r.values = append(r.values, v)
}

func TestPutGet(t *testing.T) {
	m := New[string, int](3, nil)

	_, replaced := m.Put("a", 1)
	assert.False(t, replaced)

	prev, replaced := m.Put("a", 2)
	assert.True(t, replaced)
	assert.Equal(t, 1, prev)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	st := m.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(2), st.Puts)
	assert.Equal(t, 1, st.Size)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	rec := &spillRecorder{}
	m := New[string, int](2, rec)

	m.Put("a", 1)
	m.Put("b", 2)
	m.Get("a") // b is now oldest
	m.Put("c", 3)

	assert.Equal(t, []string{"b"}, rec.keys)
	assert.Equal(t, []int{2}, rec.values)
	assert.Equal(t, []string{"c", "a"}, m.Keys())
	assert.False(t, m.Contains("b"))
	require.NoError(t, m.Verify())
}

func TestPeekDoesNotPromote(t *testing.T) {
	rec := &spillRecorder{}
	m := New[string, int](2, rec)

	m.Put("a", 1)
	m.Put("b", 2)
	v, ok := m.Peek("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	m.Put("c", 3)

	assert.Equal(t, []string{"a"}, rec.keys)
	assert.Zero(t, m.Stats().Hits)
}

func TestChunkedEviction(t *testing.T) {
	rec := &spillRecorder{}
	m := New[string, int](4, rec, WithChunkSize(3))

	for i := range 5 {
		m.Put(fmt.Sprint(i), i)
	}

	// Overflow on the fifth put evicts the three oldest.
	assert.Equal(t, []string{"0", "1", "2"}, rec.keys)
	assert.Equal(t, []string{"4", "3"}, m.Keys())
	assert.Equal(t, uint64(3), m.Stats().Evictions)
	require.NoError(t, m.Verify())
}

func TestChunkLargerThanSize(t *testing.T) {
	rec := &spillRecorder{}
	m := New[string, int](1, rec, WithChunkSize(10))

	m.Put("a", 1)
	m.Put("b", 2)

	assert.Equal(t, []string{"a", "b"}, rec.keys)
	assert.Zero(t, m.Len())
}

func TestZeroCapacitySpillsEveryPut(t *testing.T) {
	rec := &spillRecorder{}
	m := New[string, int](0, rec)

	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("a", 3)

	assert.Equal(t, []string{"a", "b", "a"}, rec.keys)
	assert.Equal(t, []int{1, 2, 3}, rec.values)
	assert.Zero(t, m.Len())
}

func TestNegativeCapacityIsUnbounded(t *testing.T) {
	rec := &spillRecorder{}
	m := New[int, int](-1, rec)

	for i := range 10_000 {
		m.Put(i, i)
	}
	assert.Equal(t, 10_000, m.Len())
	assert.Empty(t, rec.keys)
}

func TestSpillRunsBeforeUnlink(t *testing.T) {
	var m *Map[string, int]
	var sawEntry bool
	m = New[string, int](1, SpillFunc[string, int](func(k string, _ int) {
		// Still indexed while the spiller runs. Inspect internals directly
		// since the map lock is held.
		_, sawEntry = m.index[k]
	}))

	m.Put("a", 1)
	m.Put("b", 2)
	assert.True(t, sawEntry)
}

func TestRemove(t *testing.T) {
	m := New[string, int](10, nil)
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	v, ok := m.Remove("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = m.Remove("b")
	assert.False(t, ok)

	assert.Equal(t, []string{"c", "a"}, m.Keys())
	require.NoError(t, m.Verify())
}

func TestRemoveFunc(t *testing.T) {
	m := New[string, int](10, nil)
	m.Put("a", 1)

	_, ok := m.RemoveFunc("a", func(v int) bool { return v == 2 })
	assert.False(t, ok)
	assert.True(t, m.Contains("a"))

	v, ok := m.RemoveFunc("a", func(v int) bool { return v == 1 })
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, m.Contains("a"))
}

func TestClearAndReuseSlots(t *testing.T) {
	m := New[string, int](3, nil)
	for i := range 3 {
		m.Put(fmt.Sprint(i), i)
	}
	m.Clear()
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Keys())

	m.Put("x", 1)
	m.Remove("x")
	m.Put("y", 2)
	assert.Len(t, m.nodes, 1, "freed slot should be recycled")
	require.NoError(t, m.Verify())
}

func TestRange(t *testing.T) {
	m := New[string, int](-1, nil)
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	var seen []string
	m.Range(func(k string, _ int) bool {
		seen = append(seen, k)
		return k != "b"
	})
	assert.Equal(t, []string{"c", "b"}, seen)
}

// TestNeverExceedsCapacity drives random put/get sequences against a simple
// recency model: the live key set must always be the N most recently
// touched keys, and the map never holds more than N.
func TestNeverExceedsCapacity(t *testing.T) {
	for _, n := range []int{1, 2, 5, 17} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(uint64(n), 42))
			m := New[int, int](n, nil)
			var recency []int // most recent last

			touch := func(k int) {
				if i := slices.Index(recency, k); i >= 0 {
					recency = slices.Delete(recency, i, i+1)
				}
				recency = append(recency, k)
				if len(recency) > n {
					recency = recency[len(recency)-n:]
				}
			}

			for range 2000 {
				k := rng.IntN(3 * n)
				if rng.IntN(3) == 0 {
					if _, ok := m.Get(k); ok {
						touch(k)
					}
				} else {
					m.Put(k, k)
					touch(k)
				}

				require.LessOrEqual(t, m.Len(), n)

				want := append([]int{}, recency...)
				slices.Reverse(want)
				require.Equal(t, want, m.Keys())
			}
			require.NoError(t, m.Verify())
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	var spilled sync.Map
	m := New[int, int](64, SpillFunc[int, int](func(k, v int) { spilled.Store(k, v) }), WithChunkSize(4))

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 1000 {
				k := g*1000 + i
				m.Put(k, k)
				m.Get(k - 1)
				if i%10 == 0 {
					m.Remove(k - 5)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, m.Len(), 64)
	require.NoError(t, m.Verify())
}
