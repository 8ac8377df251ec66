// Package badger is a persistent keystore.Store on BadgerDB.
//
// Keys are stored under a fixed prefix with the block list as value, packed
// with keystore.EncodeBlocks. The index survives restarts, which lets the
// block file be reopened and its free list rebuilt from keystore.Store.Used.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/disk/keystore"
)

const prefixKey = "k:"

func dbKey(key string) []byte { return []byte(prefixKey + key) }

// Config configures the store.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites makes every Put durable before returning.
	SyncWrites bool
}

// Store implements keystore.Store.
type Store struct {
	db     *badgerdb.DB
	path   string
	count  atomic.Int64
	mu     sync.RWMutex // excludes Clear and Close from ordinary operations
	closed bool
}

var _ keystore.Store = (*Store)(nil)

// Open opens or creates the index and counts the keys it already holds.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger keystore: path is required")
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{path: cfg.Path})

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger keystore: open %s: %w", cfg.Path, err)
	}

	s := &Store{db: db, path: cfg.Path}
	n, err := s.countKeys(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.count.Store(n)

	logger.Debug("Key index opened",
		logger.KeyBackend, "badger",
		logger.KeyPath, cfg.Path,
		logger.KeySize, n)
	return s, nil
}

func (s *Store) countKeys(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixKey)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if n%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger keystore: count keys: %w", err)
	}
	return n, nil
}

// conflictRetries bounds retries of a read-modify-write transaction that
// raced another writer on the same key.
const conflictRetries = 8

func (s *Store) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for range conflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]uint32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, keystore.ErrClosed
	}

	var blocks []uint32
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			blocks, derr = keystore.DecodeBlocks(val)
			return derr
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger keystore: get %q: %w", key, err)
	}
	return blocks, true, nil
}

func (s *Store) Put(ctx context.Context, key string, blocks []uint32) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, keystore.ErrClosed
	}

	var prev []uint32
	err := s.update(func(txn *badgerdb.Txn) error {
		prev = nil
		k := dbKey(key)
		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badgerdb.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				var derr error
				prev, derr = keystore.DecodeBlocks(val)
				return derr
			}); err != nil {
				return err
			}
		}
		return txn.Set(k, keystore.EncodeBlocks(blocks))
	})
	if err != nil {
		return nil, fmt.Errorf("badger keystore: put %q: %w", key, err)
	}
	if prev == nil {
		s.count.Add(1)
	}
	return prev, nil
}

func (s *Store) Remove(ctx context.Context, key string) ([]uint32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, keystore.ErrClosed
	}

	var (
		blocks []uint32
		found  bool
	)
	err := s.update(func(txn *badgerdb.Txn) error {
		blocks, found = nil, false
		k := dbKey(key)
		item, err := txn.Get(k)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			var derr error
			blocks, derr = keystore.DecodeBlocks(val)
			return derr
		}); err != nil {
			return err
		}
		found = true
		return txn.Delete(k)
	})
	if err != nil {
		return nil, false, fmt.Errorf("badger keystore: remove %q: %w", key, err)
	}
	if found {
		s.count.Add(-1)
	}
	return blocks, found, nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, keystore.ErrClosed
	}

	keys := make([]string, 0, s.count.Load())
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixKey)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if len(keys)%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			keys = append(keys, string(it.Item().Key()[len(prefixKey):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger keystore: list keys: %w", err)
	}
	return keys, nil
}

func (s *Store) Len() int { return int(s.count.Load()) }

func (s *Store) Used(ctx context.Context) (*roaring.Bitmap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, keystore.ErrClosed
	}

	used := roaring.New()
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixKey)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				blocks, err := keystore.DecodeBlocks(val)
				if err != nil {
					return err
				}
				used.AddMany(blocks)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger keystore: collect used blocks: %w", err)
	}
	return used, nil
}

func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.ErrClosed
	}

	if err := s.db.DropPrefix([]byte(prefixKey)); err != nil {
		return fmt.Errorf("badger keystore: clear: %w", err)
	}
	s.count.Store(0)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badger keystore: close %s: %w", s.path, err)
	}
	return nil
}

// badgerLogger routes BadgerDB's own logging through the structured logger.
type badgerLogger struct {
	path string
}

func (l badgerLogger) Errorf(format string, args ...any) {
	logger.Error(message(format, args), logger.KeyBackend, "badger", logger.KeyPath, l.path)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(message(format, args), logger.KeyBackend, "badger", logger.KeyPath, l.path)
}

// Badger is chatty at info level; demote it.
func (l badgerLogger) Infof(format string, args ...any) {
	logger.Debug(message(format, args), logger.KeyBackend, "badger", logger.KeyPath, l.path)
}

func (l badgerLogger) Debugf(string, ...any) {}

func message(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
