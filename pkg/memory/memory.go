// Package memory implements the in-memory tier of a region: a bounded LRU
// of elements that hands the least recently used ones to an Overflow when
// it fills up.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/lru"
	"github.com/marmos91/dittocache/pkg/metrics"
)

// Overflow receives elements evicted from memory for capacity.
//
// Spool is called while the tier's lock is held: it must not call back into
// the tier and it should not block on I/O. disk.Cache.Update satisfies both.
type Overflow interface {
	Spool(elem *cache.Element)
}

// OverflowFunc adapts a function to Overflow.
type OverflowFunc func(elem *cache.Element)

func (f OverflowFunc) Spool(elem *cache.Element) { f(elem) }

// Config configures an LRUCache.
type Config struct {
	// Name identifies the region in logs and metrics.
	Name string

	// MaxObjects bounds the number of elements held. Zero sends every
	// element straight to the overflow; negative is unbounded.
	MaxObjects int

	// ChunkSize is how many elements are spilled at once when the tier
	// overflows.
	ChunkSize int
}

// Option configures an LRUCache.
type Option func(*LRUCache)

// WithMetrics attaches cache metrics. nil disables them.
func WithMetrics(m metrics.CacheMetrics) Option {
	return func(c *LRUCache) { c.metrics = m }
}

// item is what the LRU stores. lastAccess is kept apart from the element
// so concurrent readers can record an access without copying it.
type item struct {
	elem       *cache.Element
	lastAccess atomic.Int64
}

func newItem(elem *cache.Element) *item {
	it := &item{elem: elem}
	it.lastAccess.Store(elem.Attributes.LastAccess.UnixNano())
	return it
}

// snapshot returns a copy of the element carrying the latest access time.
func (it *item) snapshot() *cache.Element {
	e := it.elem.Clone()
	if la := it.lastAccess.Load(); la != 0 {
		e.Attributes.LastAccess = time.Unix(0, la)
	}
	return e
}

// LRUCache is the memory tier. It implements cache.Tier.
type LRUCache struct {
	cfg      Config
	overflow Overflow
	metrics  metrics.CacheMetrics
	items    *lru.Map[string, *item]

	disposed atomic.Bool

	spooled    atomic.Uint64
	notSpooled atomic.Uint64
}

var _ cache.Tier = (*LRUCache)(nil)

// New creates the tier. overflow may be nil, in which case evicted elements
// are dropped.
func New(cfg Config, overflow Overflow, opts ...Option) *LRUCache {
	c := &LRUCache{cfg: cfg, overflow: overflow}
	for _, opt := range opts {
		opt(c)
	}
	c.items = lru.New[string, *item](cfg.MaxObjects, lru.SpillFunc[string, *item](c.spill),
		lru.WithChunkSize(cfg.ChunkSize))
	return c
}

// spill runs under the LRU lock for each evicted element.
func (c *LRUCache) spill(key string, it *item) {
	if !it.elem.Attributes.IsSpool || c.overflow == nil {
		c.notSpooled.Add(1)
		logger.Debug("Evicted element not spooled",
			logger.KeyRegion, c.cfg.Name,
			logger.KeyKey, key)
		return
	}
	c.overflow.Spool(it.snapshot())
	c.spooled.Add(1)
	metrics.RecordSpill(c.metrics, c.cfg.Name, 1)
}

func (c *LRUCache) Name() string { return c.cfg.Name }

// ============================================================================
// Reads
// ============================================================================

// Get returns a copy of the element for key and marks it most recently
// used.
func (c *LRUCache) Get(_ context.Context, key string) (*cache.Element, error) {
	if c.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	start := time.Now()
	it, ok := c.items.Get(key)
	metrics.ObserveGet(c.metrics, c.cfg.Name, metrics.TierMemory, ok, start)
	if !ok {
		return nil, cache.ErrNotFound
	}
	it.lastAccess.Store(start.UnixNano())
	return it.snapshot(), nil
}

// GetQuiet returns a copy of the element for key without changing its
// recency or the hit counters.
func (c *LRUCache) GetQuiet(key string) (*cache.Element, error) {
	if c.disposed.Load() {
		return nil, cache.ErrDisposed
	}
	it, ok := c.items.Peek(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return it.snapshot(), nil
}

// Keys returns the keys from most to least recently used.
func (c *LRUCache) Keys(context.Context) ([]string, error) {
	if c.disposed.Load() {
		return nil, cache.ErrDisposed
	}
	return c.items.Keys(), nil
}

func (c *LRUCache) Size() int { return c.items.Len() }

// ============================================================================
// Writes
// ============================================================================

// Update stores a copy of elem as the most recently used element. If the
// tier is then over capacity the oldest elements are spooled.
func (c *LRUCache) Update(_ context.Context, elem *cache.Element) error {
	if c.disposed.Load() {
		return cache.ErrDisposed
	}
	if elem == nil || elem.Key == "" {
		return cache.ErrEmptyKey
	}

	c.items.Put(elem.Key, newItem(elem.Clone()))
	metrics.RecordPut(c.metrics, c.cfg.Name, metrics.TierMemory)
	metrics.SetItems(c.metrics, c.cfg.Name, metrics.TierMemory, c.items.Len())
	return nil
}

// Remove deletes key and reports whether it was present.
func (c *LRUCache) Remove(_ context.Context, key string) (bool, error) {
	if c.disposed.Load() {
		return false, cache.ErrDisposed
	}
	_, ok := c.items.Remove(key)
	if ok {
		metrics.RecordRemove(c.metrics, c.cfg.Name, metrics.TierMemory)
		metrics.SetItems(c.metrics, c.cfg.Name, metrics.TierMemory, c.items.Len())
	}
	return ok, nil
}

// RemoveAll drops every element without spooling.
func (c *LRUCache) RemoveAll(context.Context) error {
	if c.disposed.Load() {
		return cache.ErrDisposed
	}
	c.items.Clear()
	metrics.SetItems(c.metrics, c.cfg.Name, metrics.TierMemory, 0)
	return nil
}

// SpoolAll hands every spoolable element to the overflow, least recently
// used first, and empties the tier. It returns the number spooled. Writers
// must be stopped first; an Update racing with SpoolAll may be lost.
func (c *LRUCache) SpoolAll(context.Context) int {
	if c.overflow == nil {
		c.items.Clear()
		return 0
	}

	var elems []*cache.Element
	c.items.Range(func(_ string, it *item) bool {
		if it.elem.Attributes.IsSpool {
			elems = append(elems, it.snapshot())
		}
		return true
	})
	c.items.Clear()

	for i := len(elems) - 1; i >= 0; i-- {
		c.overflow.Spool(elems[i])
	}
	c.spooled.Add(uint64(len(elems)))
	metrics.RecordSpill(c.metrics, c.cfg.Name, len(elems))
	metrics.SetItems(c.metrics, c.cfg.Name, metrics.TierMemory, 0)
	return len(elems)
}

// ============================================================================
// Lifecycle & stats
// ============================================================================

// Dispose marks the tier disposed. Elements still held are released; call
// SpoolAll first to keep them.
func (c *LRUCache) Dispose(context.Context) error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	c.items.Clear()
	return nil
}

func (c *LRUCache) Status() cache.Status {
	if c.disposed.Load() {
		return cache.StatusDisposed
	}
	return cache.StatusAlive
}

// Verify checks that the LRU index and recency list agree.
func (c *LRUCache) Verify() error {
	return c.items.Verify()
}

func (c *LRUCache) Stats() cache.Stats {
	st := c.items.Stats()
	s := cache.Stats{TypeName: "LRU Memory Cache"}
	s.Add("list_size", st.Size).
		Add("max_objects", st.MaxObjects).
		Add("chunk_size", max(c.cfg.ChunkSize, 1)).
		Add("hits", st.Hits).
		Add("misses", st.Misses).
		Add("puts", st.Puts).
		Add("evictions", st.Evictions).
		Add("spooled", c.spooled.Load()).
		Add("not_spooled", c.notSpooled.Load())
	return s
}
