// Package keystoretest holds the behaviour every keystore.Store must share.
package keystoretest

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocache/pkg/disk/keystore"
)

// StoreFactory creates a fresh, empty store for each test. Teardown is the
// factory's job, via t.Cleanup.
type StoreFactory func(t *testing.T) keystore.Store

// RunConformanceSuite runs the shared keystore tests against factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) { testPutGet(t, factory(t)) })
	t.Run("PutReturnsReplacedBlocks", func(t *testing.T) { testReplace(t, factory(t)) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, factory(t)) })
	t.Run("KeysAndUsed", func(t *testing.T) { testKeysAndUsed(t, factory(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, factory(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, factory(t)) })
}

func testPutGet(t *testing.T, s keystore.Store) {
	ctx := t.Context()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	prev, err := s.Put(ctx, "a", []uint32{3, 1, 4})
	require.NoError(t, err)
	assert.Nil(t, prev)

	blocks, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint32{3, 1, 4}, blocks, "block order must be preserved")
	assert.Equal(t, 1, s.Len())
}

func testReplace(t *testing.T, s keystore.Store) {
	ctx := t.Context()

	_, err := s.Put(ctx, "a", []uint32{1, 2})
	require.NoError(t, err)

	prev, err := s.Put(ctx, "a", []uint32{7})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, prev)
	assert.Equal(t, 1, s.Len())

	blocks, _, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, blocks)
}

func testRemove(t *testing.T, s keystore.Store) {
	ctx := t.Context()

	_, err := s.Put(ctx, "a", []uint32{5, 6})
	require.NoError(t, err)

	blocks, ok, err := s.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []uint32{5, 6}, blocks)
	assert.Zero(t, s.Len())

	_, ok, err = s.Remove(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testKeysAndUsed(t *testing.T, s keystore.Store) {
	ctx := t.Context()

	_, err := s.Put(ctx, "x", []uint32{0, 2})
	require.NoError(t, err)
	_, err = s.Put(ctx, "y", []uint32{5})
	require.NoError(t, err)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	slices.Sort(keys)
	assert.Equal(t, []string{"x", "y"}, keys)

	used, err := s.Used(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 5}, used.ToArray())
}

func testClear(t *testing.T, s keystore.Store) {
	ctx := t.Context()

	for i := range 10 {
		_, err := s.Put(ctx, fmt.Sprint(i), []uint32{uint32(i)})
		require.NoError(t, err)
	}
	require.NoError(t, s.Clear(ctx))

	assert.Zero(t, s.Len())
	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	used, err := s.Used(ctx)
	require.NoError(t, err)
	assert.True(t, used.IsEmpty())
}

func testConcurrent(t *testing.T, s keystore.Store) {
	ctx := t.Context()

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := fmt.Sprintf("%d-%d", g, i)
				_, err := s.Put(ctx, key, []uint32{uint32(g*100 + i)})
				assert.NoError(t, err)
				if i%2 == 0 {
					_, _, err = s.Remove(ctx, key)
					assert.NoError(t, err)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, s.Len())
	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 100)
}
