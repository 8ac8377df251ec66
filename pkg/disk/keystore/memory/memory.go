// Package memory is an in-process keystore.Store backed by an LRU map.
//
// With a positive MaxKeys the least recently used key is dropped once the
// limit is exceeded and its blocks are handed to the eviction callback, so
// the block file can reuse them.
package memory

import (
	"context"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/marmos91/dittocache/pkg/disk/keystore"
	"github.com/marmos91/dittocache/pkg/lru"
)

// EvictFunc receives the blocks of a key dropped to respect MaxKeys. It
// runs with the index locked and must not call back into the store.
type EvictFunc func(key string, blocks []uint32)

// Store implements keystore.Store.
type Store struct {
	keys *lru.Map[string, []uint32]
}

var _ keystore.Store = (*Store)(nil)

// New creates a store holding at most maxKeys keys. Zero or negative means
// unbounded. onEvict may be nil.
func New(maxKeys int, onEvict EvictFunc) *Store {
	if maxKeys <= 0 {
		maxKeys = -1
	}
	var spiller lru.Spiller[string, []uint32]
	if onEvict != nil {
		spiller = lru.SpillFunc[string, []uint32](onEvict)
	}
	return &Store{keys: lru.New(maxKeys, spiller)}
}

func (s *Store) Get(_ context.Context, key string) ([]uint32, bool, error) {
	blocks, ok := s.keys.Get(key)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(blocks), true, nil
}

func (s *Store) Put(_ context.Context, key string, blocks []uint32) ([]uint32, error) {
	prev, replaced := s.keys.Put(key, slices.Clone(blocks))
	if !replaced {
		return nil, nil
	}
	return prev, nil
}

func (s *Store) Remove(_ context.Context, key string) ([]uint32, bool, error) {
	blocks, ok := s.keys.Remove(key)
	return blocks, ok, nil
}

func (s *Store) Keys(context.Context) ([]string, error) {
	return s.keys.Keys(), nil
}

func (s *Store) Len() int { return s.keys.Len() }

func (s *Store) Used(context.Context) (*roaring.Bitmap, error) {
	used := roaring.New()
	s.keys.Range(func(_ string, blocks []uint32) bool {
		used.AddMany(blocks)
		return true
	})
	return used, nil
}

func (s *Store) Clear(context.Context) error {
	s.keys.Clear()
	return nil
}

func (s *Store) Close() error { return nil }
