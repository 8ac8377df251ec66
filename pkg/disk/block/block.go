// Package block is the disk.Backend that stores serialized elements in a
// blockdisk file and their block lists in a keystore.
//
// Layout for a region named r under dir:
//
//	dir/r.data   block file
//	dir/r.keys/  BadgerDB key index (when the badger index is used)
package block

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/blockdisk"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/disk"
	"github.com/marmos91/dittocache/pkg/disk/keystore"
	"github.com/marmos91/dittocache/pkg/disk/keystore/badger"
	"github.com/marmos91/dittocache/pkg/disk/keystore/memory"
	"github.com/marmos91/dittocache/pkg/metrics"
	"github.com/marmos91/dittocache/pkg/serializer"
)

// Key index kinds.
const (
	IndexMemory = "memory"
	IndexBadger = "badger"
)

// Config configures a Backend.
type Config struct {
	Name string
	Dir  string

	// BlockSize is the block file's block size. Zero uses
	// blockdisk.DefaultBlockSize.
	BlockSize int

	// KeyIndex selects the key index: IndexMemory or IndexBadger.
	KeyIndex string

	// MaxKeys bounds the memory key index. Zero or negative is unbounded.
	MaxKeys int

	// Compression is passed to serializer.New.
	Compression string

	// SyncWrites forces each record to stable storage before the write
	// completes.
	SyncWrites bool

	Metrics metrics.BlockDiskMetrics
}

// Backend implements disk.Backend.
type Backend struct {
	name  string
	dir   string
	index string
	ser   serializer.Serializer
	store *blockdisk.Store
	keys  keystore.Store

	// mu is held shared by Get and by the block write of Update, and
	// exclusively while blocks are freed or the store is reset, so a read
	// never sees blocks being reused under it.
	mu sync.RWMutex

	// gen counts resets. Blocks written under an older generation were
	// truncated away and must not be indexed.
	gen uint64

	afterWrite func() // test hook, runs between the block write and indexing

	corruptions atomic.Uint64
}

var _ disk.Backend = (*Backend)(nil)

// Open opens the block file and key index for cfg.Name under cfg.Dir. With
// a persistent index the free list is rebuilt from the blocks it still
// references; with a memory index the block file starts empty.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Name == "" {
		return nil, errors.New("block backend: name is required")
	}
	if cfg.KeyIndex == "" {
		cfg.KeyIndex = IndexMemory
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = blockdisk.DefaultBlockSize
	}

	ser, err := serializer.New(cfg.Compression)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("block backend: create %s: %w", cfg.Dir, err)
	}

	store, err := blockdisk.Open(filepath.Join(cfg.Dir, cfg.Name+".data"),
		blockdisk.WithBlockSize(cfg.BlockSize),
		blockdisk.WithSyncWrites(cfg.SyncWrites),
		blockdisk.WithMetrics(cfg.Metrics))
	if err != nil {
		return nil, err
	}

	b := &Backend{
		name:  cfg.Name,
		dir:   cfg.Dir,
		index: cfg.KeyIndex,
		ser:   ser,
		store: store,
	}

	switch cfg.KeyIndex {
	case IndexMemory:
		b.keys = memory.New(cfg.MaxKeys, func(key string, blocks []uint32) {
			logger.Debug("Key index full, dropping key",
				logger.KeyRegion, cfg.Name,
				logger.KeyKey, key,
				logger.KeyBlocks, len(blocks))
			store.Free(blocks)
		})
	case IndexBadger:
		b.keys, err = badger.Open(ctx, badger.Config{
			Path:       filepath.Join(cfg.Dir, cfg.Name+".keys"),
			SyncWrites: cfg.SyncWrites,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	default:
		_ = store.Close()
		return nil, fmt.Errorf("block backend: unknown key index %q", cfg.KeyIndex)
	}

	if err := b.recover(ctx); err != nil {
		_ = b.keys.Close()
		_ = store.Close()
		return nil, err
	}

	st := store.Stats()
	logger.Info("Block disk backend opened",
		logger.KeyRegion, cfg.Name,
		logger.KeyPath, store.Path(),
		logger.KeyBackend, cfg.KeyIndex,
		logger.KeySize, b.keys.Len(),
		logger.KeyBlocks, st.Blocks,
		logger.KeyFreeList, st.EmptyBlocks,
		"serializer", ser.Name())
	return b, nil
}

// recover reconciles the block file with the key index at startup.
func (b *Backend) recover(ctx context.Context) error {
	if b.keys.Len() == 0 {
		if b.store.Stats().Blocks > 0 {
			logger.Info("No indexed keys, resetting block file",
				logger.KeyRegion, b.name,
				logger.KeyPath, b.store.Path())
		}
		return b.store.Reset(ctx)
	}

	used, err := b.keys.Used(ctx)
	if err != nil {
		return err
	}
	if !used.IsEmpty() && used.Maximum() >= b.store.Stats().Blocks {
		logger.Warn("Key index references blocks past the end of the data file, resetting",
			logger.KeyRegion, b.name,
			logger.KeyBlocks, b.store.Stats().Blocks)
		return b.resetLocked(ctx)
	}
	b.store.RebuildFreeList(used)
	return nil
}

// ============================================================================
// Reads
// ============================================================================

// Get reads and deserializes key. A corrupt record resets the whole backend
// and is reported as a miss.
func (b *Backend) Get(ctx context.Context, key string) (*cache.Element, error) {
	e, err := b.read(ctx, key)
	if err == nil || errors.Is(err, cache.ErrNotFound) {
		return e, err
	}
	if !errors.Is(err, blockdisk.ErrCorrupt) && !errors.Is(err, serializer.ErrMalformed) {
		return nil, err
	}

	b.corruptions.Add(1)
	logger.Error("Corrupt record on disk, resetting region store",
		logger.KeyRegion, b.name,
		logger.KeyKey, key,
		logger.Err(err))

	b.mu.Lock()
	defer b.mu.Unlock()
	if rerr := b.resetLocked(ctx); rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return nil, cache.ErrNotFound
}

func (b *Backend) read(ctx context.Context, key string) (*cache.Element, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	blocks, ok, err := b.keys.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cache.ErrNotFound
	}

	data, err := b.store.Read(ctx, blocks)
	if err != nil {
		return nil, err
	}
	e, err := b.ser.Deserialize(data)
	if err != nil {
		return nil, err
	}
	if e.Key != key {
		return nil, fmt.Errorf("%w: record for %q holds key %q", blockdisk.ErrCorrupt, key, e.Key)
	}
	return e, nil
}

func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	return b.keys.Keys(ctx)
}

func (b *Backend) Size() int { return b.keys.Len() }

// ============================================================================
// Writes
// ============================================================================

// Update writes elem to fresh blocks, then points the index at them and
// frees the blocks of the previous record. A reset between the two steps
// discards the write and it is retried.
func (b *Backend) Update(ctx context.Context, elem *cache.Element) error {
	data, err := b.ser.Serialize(elem)
	if err != nil {
		return err
	}

	for {
		blocks, gen, err := b.write(ctx, data)
		if err != nil {
			return err
		}
		if b.afterWrite != nil {
			b.afterWrite()
		}

		done, err := b.index(ctx, elem.Key, blocks, gen)
		if done || err != nil {
			return err
		}
		logger.Debug("Block store reset during write, retrying",
			logger.KeyRegion, b.name,
			logger.KeyKey, elem.Key)
	}
}

func (b *Backend) write(ctx context.Context, data []byte) ([]uint32, uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	blocks, err := b.store.Write(ctx, data)
	return blocks, b.gen, err
}

// index points key at blocks unless the store was reset since they were
// written, in which case it reports false.
func (b *Backend) index(ctx context.Context, key string, blocks []uint32, gen uint64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return false, ctx.Err()
	}

	prev, err := b.keys.Put(ctx, key, blocks)
	if err != nil {
		b.store.Free(blocks)
		return false, err
	}
	if prev != nil {
		b.store.Free(prev)
	}
	return true, nil
}

func (b *Backend) Remove(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	blocks, ok, err := b.keys.Remove(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b.store.Free(blocks)
	return true, nil
}

func (b *Backend) RemoveAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetLocked(ctx)
}

// resetLocked truncates the block file and clears the index.
func (b *Backend) resetLocked(ctx context.Context) error {
	b.gen++
	if err := b.keys.Clear(ctx); err != nil {
		return err
	}
	return b.store.Reset(ctx)
}

// ============================================================================
// Lifecycle & stats
// ============================================================================

func (b *Backend) Dispose(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.keys.Close(), b.store.Close())
}

func (b *Backend) Stats() cache.Stats {
	st := b.store.Stats()
	s := cache.Stats{TypeName: "Block Disk Backend"}
	s.Add("data_file", b.store.Path()).
		Add("key_index", b.index).
		Add("serializer", b.ser.Name()).
		Add("keys", b.keys.Len()).
		Add("block_size", st.BlockSize).
		Add("blocks", st.Blocks).
		Add("empty_blocks", st.EmptyBlocks).
		Add("file_length", st.FileLength).
		Add("put_count", st.PutCount).
		Add("avg_put_size", st.AveragePutSize()).
		Add("corruptions", b.corruptions.Load())
	return s
}

// BlockStats returns the block file counters.
func (b *Backend) BlockStats() blockdisk.Stats { return b.store.Stats() }
