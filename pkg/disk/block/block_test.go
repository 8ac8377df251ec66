package block

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/disk"
)

func openBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "region"
	}
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	b, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Dispose(context.Background()) })
	return b
}

func TestRoundTripAcrossIndexes(t *testing.T) {
	for _, index := range []string{IndexMemory, IndexBadger} {
		for _, compression := range []string{"none", "zstd"} {
			t.Run(index+"/"+compression, func(t *testing.T) {
				ctx := context.Background()
				b := openBackend(t, Config{BlockSize: 64, KeyIndex: index, Compression: compression})

				big := bytes.Repeat([]byte("0123456789"), 50)
				require.NoError(t, b.Update(ctx, cache.NewElement("small", []byte("v"))))
				require.NoError(t, b.Update(ctx, cache.NewElement("big", big)))

				got, err := b.Get(ctx, "big")
				require.NoError(t, err)
				assert.Equal(t, big, got.Value)

				got, err = b.Get(ctx, "small")
				require.NoError(t, err)
				assert.Equal(t, "v", string(got.Value))

				_, err = b.Get(ctx, "missing")
				assert.ErrorIs(t, err, cache.ErrNotFound)

				keys, err := b.Keys(ctx)
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"small", "big"}, keys)
				assert.Equal(t, 2, b.Size())
			})
		}
	}
}

func TestOverwriteFreesOldBlocks(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, Config{BlockSize: 64})

	require.NoError(t, b.Update(ctx, cache.NewElement("k", bytes.Repeat([]byte{1}, 200))))
	before := b.BlockStats().Blocks

	require.NoError(t, b.Update(ctx, cache.NewElement("k", []byte("short"))))
	st := b.BlockStats()
	assert.Equal(t, before+1, st.Blocks)
	assert.Equal(t, int(before), st.EmptyBlocks)

	// The freed blocks are reused before the file grows.
	require.NoError(t, b.Update(ctx, cache.NewElement("other", []byte("x"))))
	assert.Equal(t, before+1, b.BlockStats().Blocks)
}

func TestRemoveFreesBlocks(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, Config{BlockSize: 64})

	require.NoError(t, b.Update(ctx, cache.NewElement("k", []byte("value"))))

	removed, err := b.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 1, b.BlockStats().EmptyBlocks)

	removed, err = b.Remove(ctx, "k")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveAllTruncates(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, Config{BlockSize: 64})

	for i := range 10 {
		require.NoError(t, b.Update(ctx, cache.NewElement(fmt.Sprint(i), []byte("v"))))
	}
	require.NoError(t, b.RemoveAll(ctx))

	assert.Zero(t, b.Size())
	assert.Zero(t, b.BlockStats().FileLength)
}

func TestCorruptRecordResetsAndMisses(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := openBackend(t, Config{Dir: dir, BlockSize: 64})

	require.NoError(t, b.Update(ctx, cache.NewElement("a", []byte("first"))))
	require.NoError(t, b.Update(ctx, cache.NewElement("b", []byte("second"))))

	// "b" sits in the last block; make its header claim a full block, which
	// runs past the end of the file.
	f, err := os.OpenFile(filepath.Join(dir, "region.data"), os.O_WRONLY, 0)
	require.NoError(t, err)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 60)
	_, err = f.WriteAt(hdr[:], 64)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = b.Get(ctx, "b")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	assert.Zero(t, b.Size(), "index should be cleared")
	v, ok := b.Stats().Lookup("corruptions")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)

	// Still usable afterwards.
	require.NoError(t, b.Update(ctx, cache.NewElement("c", []byte("third"))))
	got, err := b.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "third", string(got.Value))
}

func TestResetBetweenWriteAndIndexRetriesWrite(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, Config{BlockSize: 64})

	require.NoError(t, b.Update(ctx, cache.NewElement("a", []byte("first"))))

	// Reset the store after "b" has been written but before it is indexed.
	resets := 0
	b.afterWrite = func() {
		if resets == 0 {
			resets++
			require.NoError(t, b.RemoveAll(ctx))
		}
	}
	require.NoError(t, b.Update(ctx, cache.NewElement("b", []byte("second"))))
	b.afterWrite = nil
	require.NoError(t, b.Update(ctx, cache.NewElement("c", []byte("third"))))

	assert.Equal(t, 1, resets)
	_, err := b.Get(ctx, "a")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	got, err := b.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got.Value))

	got, err = b.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "third", string(got.Value))

	v, _ := b.Stats().Lookup("corruptions")
	assert.Equal(t, uint64(0), v)
	assert.Equal(t, 2, b.Size())
}

func TestBadgerIndexSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Name: "persist", Dir: dir, BlockSize: 64, KeyIndex: IndexBadger, SyncWrites: true}

	b, err := Open(ctx, cfg)
	require.NoError(t, err)
	for i := range 4 {
		require.NoError(t, b.Update(ctx, cache.NewElement(fmt.Sprint(i), bytes.Repeat([]byte{byte(i)}, 80))))
	}
	_, err = b.Remove(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, b.Dispose(ctx))

	b, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer b.Dispose(ctx)

	assert.Equal(t, 3, b.Size())
	got, err := b.Get(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{3}, 80), got.Value)

	// Key "1" held 2 blocks; they are free again after the restart.
	assert.Equal(t, 2, b.BlockStats().EmptyBlocks)
}

func TestMemoryIndexStartsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Name: "volatile", Dir: dir, BlockSize: 64}

	b, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, b.Update(ctx, cache.NewElement("k", []byte("v"))))
	require.NoError(t, b.Dispose(ctx))

	b, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer b.Dispose(ctx)

	assert.Zero(t, b.Size())
	assert.Zero(t, b.BlockStats().FileLength)
}

func TestMaxKeysFreesEvictedBlocks(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, Config{BlockSize: 64, MaxKeys: 2})

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Update(ctx, cache.NewElement(k, []byte(k))))
	}

	assert.Equal(t, 2, b.Size())
	_, err := b.Get(ctx, "a")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, 1, b.BlockStats().EmptyBlocks)
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Dir: t.TempDir()})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Name: "x", Dir: t.TempDir(), KeyIndex: "sqlite"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Name: "x", Dir: t.TempDir(), Compression: "brotli"})
	assert.Error(t, err)
}

// TestWithDiskTier drives the backend through the write-behind tier.
func TestWithDiskTier(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, Config{BlockSize: 128, KeyIndex: IndexBadger})
	c := disk.New(disk.DefaultConfig("region"), b)

	for i := range 100 {
		require.NoError(t, c.Update(ctx, cache.NewElement(fmt.Sprintf("key-%03d", i), []byte(fmt.Sprint(i)))))
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitDrained(wctx))
	assert.Equal(t, 100, b.Size())

	got, err := c.GetMatching(ctx, "key-00.")
	require.NoError(t, err)
	assert.Len(t, got, 10)

	require.NoError(t, c.Dispose(ctx))
}
