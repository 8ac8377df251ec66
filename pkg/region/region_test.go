package region

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/disk"
	"github.com/marmos91/dittocache/pkg/disk/block"
)

type fixture struct {
	region *Region
	disk   *disk.Cache
}

func newFixture(t *testing.T, cfg Config, backendCfg block.Config) *fixture {
	t.Helper()
	if backendCfg.Name == "" {
		backendCfg.Name = cfg.Name
	}
	if backendCfg.Dir == "" {
		backendCfg.Dir = t.TempDir()
	}
	if backendCfg.BlockSize == 0 {
		backendCfg.BlockSize = 128
	}
	b, err := block.Open(context.Background(), backendCfg)
	require.NoError(t, err)

	d := disk.New(disk.DefaultConfig(cfg.Name), b)
	r := New(cfg, d)
	t.Cleanup(func() { _ = r.Dispose(context.Background()) })
	return &fixture{region: r, disk: d}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.disk.WaitDrained(ctx))
}

func smallConfig(maxObjects int) Config {
	cfg := DefaultConfig("users")
	cfg.MaxObjects = maxObjects
	return cfg
}

func TestPutGetFromMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(10), block.Config{})

	require.NoError(t, f.region.Put(ctx, "k", []byte("v")))

	got, err := f.region.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got.Value))

	_, err = f.region.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	hits, _ := f.region.Stats().Lookup("memory_hits")
	assert.Equal(t, uint64(1), hits)
}

func TestEvictedElementsAreReadFromDisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(2), block.Config{})

	for i := range 5 {
		require.NoError(t, f.region.Put(ctx, fmt.Sprint(i), []byte(fmt.Sprintf("value-%d", i))))
	}
	assert.Equal(t, 2, f.region.Size())

	// Readable straight away from purgatory, and after the drain from disk.
	got, err := f.region.Get(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, "value-0", string(got.Value))

	f.drain(t)
	for i := range 5 {
		got, err := f.region.Get(ctx, fmt.Sprint(i))
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, fmt.Sprintf("value-%d", i), string(got.Value))
	}
}

func TestDiskHitIsPromoted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(1), block.Config{})

	require.NoError(t, f.region.Put(ctx, "a", []byte("a")))
	require.NoError(t, f.region.Put(ctx, "b", []byte("b")))
	f.drain(t)

	_, err := f.region.Get(ctx, "a")
	require.NoError(t, err)

	keys, err := f.region.memory.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	diskHits, _ := f.region.Stats().Lookup("disk_hits")
	assert.Equal(t, uint64(1), diskHits)
}

func TestExpiredElementIsMissAndRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(10), block.Config{})

	e := cache.NewElement("old", []byte("v"))
	e.Attributes.IsEternal = false
	e.Attributes.MaxLife = time.Minute
	e.Attributes.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, f.region.Update(ctx, e))

	_, err := f.region.Get(ctx, "old")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Zero(t, f.region.Size())

	expired, _ := f.region.Stats().Lookup("expired")
	assert.Equal(t, uint64(1), expired)
}

func TestExpiredOnDisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(0), block.Config{})

	e := cache.NewElement("old", []byte("v"))
	e.Attributes.IsEternal = false
	e.Attributes.MaxIdle = time.Minute
	e.Attributes.LastAccess = time.Now().Add(-time.Hour)
	require.NoError(t, f.region.Update(ctx, e))
	f.drain(t)
	require.Equal(t, 1, f.region.DiskSize())

	_, err := f.region.Get(ctx, "old")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Zero(t, f.region.DiskSize())
}

func TestNonSpoolableNeverReachesDisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(1), block.Config{})

	e := cache.NewElement("local", []byte("v"))
	e.Attributes.IsSpool = false
	require.NoError(t, f.region.Update(ctx, e))
	require.NoError(t, f.region.Put(ctx, "next", []byte("v")))
	f.drain(t)

	_, err := f.region.Get(ctx, "local")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Zero(t, f.region.DiskSize())
}

func TestDiskUsageUpdateWritesThrough(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig(10)
	cfg.DiskUsage = DiskUsageUpdate
	f := newFixture(t, cfg, block.Config{})

	require.NoError(t, f.region.Put(ctx, "k", []byte("v")))
	f.drain(t)

	assert.Equal(t, 1, f.region.Size())
	assert.Equal(t, 1, f.region.DiskSize())
}

func TestGetMatchingPrefersMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(2), block.Config{})

	for _, k := range []string{"user:0", "user:1", "user:2", "order:1"} {
		require.NoError(t, f.region.Put(ctx, k, []byte("memory")))
	}
	// user:2 is still in memory; give the disk tier a stale copy.
	require.NoError(t, f.disk.Update(ctx, cache.NewElement("user:2", []byte("disk"))))
	f.drain(t)

	got, err := f.region.GetMatching(ctx, "user:.*")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "memory", string(got["user:2"].Value))
	assert.NotContains(t, got, "order:1")

	_, err = f.region.GetMatching(ctx, "(")
	assert.Error(t, err)
}

// removeFailingDisk is a disk tier whose removes fail.
type removeFailingDisk struct{ *disk.Cache }

func (removeFailingDisk) Remove(context.Context, string) (bool, error) {
	return false, errors.New("disk unavailable")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestGetMatchingLogsFailedExpiry(t *testing.T) {
	ctx := context.Background()
	var logs lockedBuffer
	logger.InitWithWriter(&logs, "WARN", logger.FormatText, false)
	t.Cleanup(func() { logger.InitWithWriter(os.Stdout, "INFO", logger.FormatText, false) })

	b, err := block.Open(ctx, block.Config{Name: "users", Dir: t.TempDir(), BlockSize: 128})
	require.NoError(t, err)
	r := New(smallConfig(10), removeFailingDisk{disk.New(disk.DefaultConfig("users"), b)})
	t.Cleanup(func() { _ = r.Dispose(ctx) })

	old := cache.NewElement("user:old", []byte("v"))
	old.Attributes.IsEternal = false
	old.Attributes.MaxLife = time.Minute
	old.Attributes.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, r.Update(ctx, old))
	require.NoError(t, r.Put(ctx, "user:new", []byte("v")))

	got, err := r.GetMatching(ctx, "user:.*")
	require.NoError(t, err)
	assert.Contains(t, got, "user:new")
	assert.NotContains(t, got, "user:old")
	assert.Contains(t, logs.String(), "Failed to remove expired element")
	assert.Contains(t, logs.String(), "disk unavailable")
}

func TestRemoveFromBothTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(1), block.Config{})

	require.NoError(t, f.region.Put(ctx, "a", []byte("a")))
	require.NoError(t, f.region.Put(ctx, "b", []byte("b")))
	f.drain(t)

	removed, err := f.region.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = f.region.Get(ctx, "a")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	removed, err = f.region.Remove(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(2), block.Config{})

	for i := range 10 {
		require.NoError(t, f.region.Put(ctx, fmt.Sprint(i), []byte("v")))
	}
	require.NoError(t, f.region.RemoveAll(ctx))
	f.drain(t)

	keys, err := f.region.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDisposeSpoolsMemoryToDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backendCfg := block.Config{Name: "users", Dir: dir, BlockSize: 128, KeyIndex: block.IndexBadger}

	f := newFixture(t, smallConfig(100), backendCfg)
	for i := range 20 {
		require.NoError(t, f.region.Put(ctx, fmt.Sprint(i), []byte(fmt.Sprint(i))))
	}
	require.NoError(t, f.region.Dispose(ctx))
	assert.Equal(t, cache.StatusDisposed, f.region.Status())

	_, err := f.region.Get(ctx, "0")
	assert.ErrorIs(t, err, cache.ErrDisposed)

	b, err := block.Open(ctx, backendCfg)
	require.NoError(t, err)
	defer b.Dispose(ctx)
	assert.Equal(t, 20, b.Size())
}

func TestMemoryOnlyRegion(t *testing.T) {
	ctx := context.Background()
	r := New(smallConfig(2), nil)
	defer r.Dispose(ctx)

	for i := range 3 {
		require.NoError(t, r.Put(ctx, fmt.Sprint(i), []byte("v")))
	}
	_, err := r.Get(ctx, "0")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, 2, r.Size())
	assert.Zero(t, r.DiskSize())
	assert.Equal(t, cache.StatusAlive, r.Status())
}

func TestConcurrentRegionAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallConfig(16), block.Config{})

	var g errgroup.Group
	for w := range 4 {
		g.Go(func() error {
			for i := range 100 {
				key := fmt.Sprintf("w%d-%d", w, i)
				if err := f.region.Put(ctx, key, []byte(key)); err != nil {
					return err
				}
				got, err := f.region.Get(ctx, key)
				if err != nil {
					return err
				}
				if string(got.Value) != key {
					return fmt.Errorf("read %q for %q", got.Value, key)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, f.region.Verify())

	f.drain(t)
	keys, err := f.region.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 400)
}
