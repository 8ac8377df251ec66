// Package disk implements the disk overflow tier.
//
// Updates are staged in a purgatory map and written to the Backend by a
// single write-behind queue, so callers never wait on disk I/O for an
// update. Reads check purgatory first, which gives read-your-writes before
// the write lands. Removes cancel any staged write and go straight to the
// Backend.
//
// Lock order is always removeAllMu, then a PurgatoryElement's mu, then
// inflightMu, then the purgatory map's internal lock.
package disk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/internal/telemetry"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/eventqueue"
	"github.com/marmos91/dittocache/pkg/metrics"
)

// Backend performs the actual disk operations. Calls are synchronous.
type Backend interface {
	// Get returns cache.ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (*cache.Element, error)
	Update(ctx context.Context, elem *cache.Element) error
	Remove(ctx context.Context, key string) (bool, error)
	RemoveAll(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Size() int
	Stats() cache.Stats
	Dispose(ctx context.Context) error
}

// Config configures the disk tier.
type Config struct {
	// Name identifies the region in logs and metrics.
	Name string

	// MaxPurgatorySize bounds the number of staged writes. Negative means
	// unbounded. When bounded, the least recently staged write is dropped.
	MaxPurgatorySize int

	// ShutdownSpoolTimeLimit bounds how long Dispose waits for staged
	// writes to drain.
	ShutdownSpoolTimeLimit time.Duration

	// AllowRemoveAll enables RemoveAll. When false RemoveAll is a no-op.
	AllowRemoveAll bool
}

// DefaultConfig returns an unbounded purgatory, a 60s drain limit and
// RemoveAll enabled.
func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		MaxPurgatorySize:       -1,
		ShutdownSpoolTimeLimit: 60 * time.Second,
		AllowRemoveAll:         true,
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches disk tier metrics. nil disables them.
func WithMetrics(m metrics.DiskMetrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithMatcher replaces the default regular expression key matcher.
func WithMatcher(m cache.KeyMatcher) Option {
	return func(c *Cache) { c.matcher = m }
}

// Cache is the disk overflow tier. It implements cache.Tier.
type Cache struct {
	cfg     Config
	backend Backend
	matcher cache.KeyMatcher
	metrics metrics.DiskMetrics
	queue   *eventqueue.Queue[*PurgatoryElement]
	group   singleflight.Group

	// removeAllMu is held shared by Update, Get, Remove and the drain, and
	// exclusively by RemoveAll, so a write that started before RemoveAll
	// cannot land after it.
	removeAllMu sync.RWMutex
	purgatory   *purgatory // replaced under removeAllMu held exclusively

	// inflightMu makes staging a replacement atomic with the drain claiming
	// the element it replaces. inflight is the element being written; the
	// queue has a single consumer so there is at most one.
	inflightMu sync.Mutex
	inflight   *PurgatoryElement

	disposed atomic.Bool

	purgatoryHits    atomic.Uint64
	purgatoryDropped atomic.Uint64
	updates          atomic.Uint64
	diskHits         atomic.Uint64
	misses           atomic.Uint64
}

var _ cache.Tier = (*Cache)(nil)

// New creates the tier and starts its write-behind queue.
func New(cfg Config, backend Backend, opts ...Option) *Cache {
	c := &Cache{
		cfg:     cfg,
		backend: backend,
		matcher: cache.NewRegexMatcher(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.purgatory = c.newPurgatory()

	var qopts []eventqueue.Option
	if c.metrics != nil {
		qopts = append(qopts, eventqueue.WithTaskObserver(func(kind eventqueue.Kind, took time.Duration, err error) {
			c.metrics.ObserveTask(cfg.Name, kind.String(), took, err)
		}))
	}
	c.queue = eventqueue.New[*PurgatoryElement](cfg.Name, c, qopts...)

	logger.Info("Disk cache started",
		logger.KeyRegion, cfg.Name,
		logger.KeyQueueID, c.queue.ID().String(),
		"max_purgatory_size", cfg.MaxPurgatorySize,
		"allow_remove_all", cfg.AllowRemoveAll)
	return c
}

func (c *Cache) newPurgatory() *purgatory {
	return newPurgatory(c.cfg.MaxPurgatorySize, c.dropStaged)
}

// dropStaged is called under the purgatory lock for each write evicted from
// a bounded purgatory.
func (c *Cache) dropStaged(pe *PurgatoryElement) {
	c.purgatoryDropped.Add(1)
	if c.metrics != nil {
		c.metrics.RecordPurgatoryDropped(c.cfg.Name)
	}
	logger.Warn("Purgatory full, dropping pending disk write",
		logger.KeyRegion, c.cfg.Name,
		logger.KeyKey, pe.Key(),
		logger.KeyCapacity, c.cfg.MaxPurgatorySize)
}

// Name returns the region name.
func (c *Cache) Name() string { return c.cfg.Name }

// ============================================================================
// Update
// ============================================================================

// Update stages elem and queues its write. It never waits on disk I/O.
func (c *Cache) Update(ctx context.Context, elem *cache.Element) error {
	if c.disposed.Load() {
		return cache.ErrDisposed
	}
	if elem == nil || elem.Key == "" {
		return cache.ErrEmptyKey
	}

	_, span := telemetry.StartCacheSpan(ctx, telemetry.SpanDiskUpdate, c.cfg.Name, elem.Key)
	defer span.End()

	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	pe := newPurgatoryElement(elem.Clone())
	c.inflightMu.Lock()
	if prev, replaced := c.purgatory.Put(elem.Key, pe); replaced {
		prev.spoolable.Store(false)
	}
	c.inflightMu.Unlock()

	if err := c.queue.AddPut(pe); err != nil {
		c.purgatory.RemoveFunc(elem.Key, func(v *PurgatoryElement) bool { return v == pe })
		pe.spoolable.Store(false)
		logger.Warn("Disk queue not accepting writes, update dropped",
			logger.KeyRegion, c.cfg.Name,
			logger.KeyKey, elem.Key,
			logger.Err(err))
		return fmt.Errorf("disk %s: %w", c.cfg.Name, err)
	}

	c.updates.Add(1)
	c.observeDepth()
	return nil
}

func (c *Cache) observeDepth() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetPurgatorySize(c.cfg.Name, c.purgatory.Len())
	c.metrics.SetQueueDepth(c.cfg.Name, c.queue.Size())
}

// ============================================================================
// Get
// ============================================================================

// Get returns a staged element if there is one, otherwise reads the
// Backend. Concurrent backend reads of the same key are coalesced.
func (c *Cache) Get(ctx context.Context, key string) (*cache.Element, error) {
	if c.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanDiskGet, c.cfg.Name, key)
	defer span.End()

	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	e, source, err := c.getLocked(ctx, key)
	span.SetAttributes(telemetry.Hit(err == nil), telemetry.Source(source))
	return e, err
}

// getLocked requires removeAllMu held shared.
func (c *Cache) getLocked(ctx context.Context, key string) (*cache.Element, string, error) {
	if pe, ok := c.purgatory.Get(key); ok {
		c.purgatoryHits.Add(1)
		if c.metrics != nil {
			c.metrics.RecordPurgatoryHit(c.cfg.Name)
		}
		return pe.elem.Clone(), "purgatory", nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.backend.Get(ctx, key)
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			c.misses.Add(1)
		}
		return nil, "disk", err
	}
	c.diskHits.Add(1)
	return v.(*cache.Element).Clone(), "disk", nil
}

// GetMultiple returns the elements found for keys. Missing keys are
// omitted.
func (c *Cache) GetMultiple(ctx context.Context, keys []string) (map[string]*cache.Element, error) {
	if c.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	out := make(map[string]*cache.Element, len(keys))
	for _, k := range keys {
		e, _, err := c.getLocked(ctx, k)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}

// GetMatching returns every element whose key matches pattern, from
// purgatory and disk. A staged element wins over its disk copy.
func (c *Cache) GetMatching(ctx context.Context, pattern string) (map[string]*cache.Element, error) {
	if c.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	staged, err := c.matcher.Match(pattern, c.purgatory.Keys())
	if err != nil {
		return nil, err
	}

	out := make(map[string]*cache.Element)
	for _, k := range staged {
		if pe, ok := c.purgatory.Peek(k); ok {
			out[k] = pe.elem.Clone()
		}
	}

	diskKeys, err := c.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("disk %s: list keys: %w", c.cfg.Name, err)
	}
	onDisk, err := c.matcher.Match(pattern, diskKeys)
	if err != nil {
		return nil, err
	}
	for _, k := range onDisk {
		if _, ok := out[k]; ok {
			continue
		}
		e, _, err := c.getLocked(ctx, k)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}

// Keys returns the union of staged and on-disk keys.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if c.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	staged := c.purgatory.Keys()
	diskKeys, err := c.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("disk %s: list keys: %w", c.cfg.Name, err)
	}

	seen := make(map[string]struct{}, len(staged)+len(diskKeys))
	out := make([]string, 0, len(staged)+len(diskKeys))
	for _, ks := range [][]string{staged, diskKeys} {
		for _, k := range ks {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out, nil
}

// ============================================================================
// Remove
// ============================================================================

// Remove cancels any staged write for key and removes it from disk. It
// reports whether the key was staged or on disk.
func (c *Cache) Remove(ctx context.Context, key string) (bool, error) {
	if c.disposed.Load() {
		return false, cache.ErrDisposed
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanDiskRemove, c.cfg.Name, key)
	defer span.End()

	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	staged := false
	if pe, ok := c.purgatory.Peek(key); ok {
		// Waits for a drain that is writing this element right now, so the
		// disk remove below always comes after it.
		pe.mu.Lock()
		pe.spoolable.Store(false)
		_, staged = c.purgatory.RemoveFunc(key, func(v *PurgatoryElement) bool { return v == pe })
		pe.mu.Unlock()
	}

	// An element replaced or dropped from purgatory may still be on its way
	// to disk.
	if w := c.writing(key); w != nil {
		w.mu.Lock()
		w.mu.Unlock() //nolint:staticcheck // waits for the write to finish
	}

	onDisk, err := c.backend.Remove(ctx, key)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return staged, fmt.Errorf("disk %s: remove %q: %w", c.cfg.Name, key, err)
	}
	c.observeDepth()
	return staged || onDisk, nil
}

// RemoveAll drops every staged write and clears the Backend. A no-op
// unless AllowRemoveAll is set.
func (c *Cache) RemoveAll(ctx context.Context) error {
	if c.disposed.Load() {
		return cache.ErrDisposed
	}
	if !c.cfg.AllowRemoveAll {
		logger.Info("RemoveAll not allowed, ignoring", logger.KeyRegion, c.cfg.Name)
		return nil
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanDiskRemoveAll, c.cfg.Name, "")
	defer span.End()

	c.removeAllMu.Lock()
	defer c.removeAllMu.Unlock()

	old := c.purgatory
	c.purgatory = c.newPurgatory()
	old.Range(func(_ string, pe *PurgatoryElement) bool {
		pe.spoolable.Store(false)
		return true
	})

	if err := c.backend.RemoveAll(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("disk %s: remove all: %w", c.cfg.Name, err)
	}

	logger.Info("Disk cache cleared",
		logger.KeyRegion, c.cfg.Name,
		logger.KeyPurgatorySize, old.Len())
	c.observeDepth()
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Dispose stops accepting work, waits up to ShutdownSpoolTimeLimit for the
// queue to drain, then disposes the Backend. Writes still pending when the
// limit expires are lost; that is logged, not returned. If a write is still
// running at the limit, the Backend is disposed in the background once it
// returns.
func (c *Cache) Dispose(ctx context.Context) error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}

	start := time.Now()
	wctx := ctx
	if c.cfg.ShutdownSpoolTimeLimit > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.cfg.ShutdownSpoolTimeLimit)
		defer cancel()
	}

	if err := c.queue.AddDispose(); err == nil {
		if err := c.queue.WaitEmpty(wctx); err != nil {
			logger.Warn("Disk queue did not drain before shutdown, pending writes lost",
				logger.KeyRegion, c.cfg.Name,
				logger.KeyQueueSize, c.queue.Size(),
				logger.KeyPurgatorySize, c.PurgatorySize(),
				logger.Err(err))
		}
	}

	if err := c.queue.DestroyContext(wctx); err != nil {
		logger.Warn("Disk write still running at shutdown, backend will be closed when it returns",
			logger.KeyRegion, c.cfg.Name,
			logger.Err(err))
		go func() {
			c.queue.Destroy()
			if err := c.disposeBackend(context.Background(), start); err != nil {
				logger.Error("Failed to dispose disk backend", logger.KeyRegion, c.cfg.Name, logger.Err(err))
			}
		}()
		return nil
	}
	return c.disposeBackend(ctx, start)
}

func (c *Cache) disposeBackend(ctx context.Context, start time.Time) error {
	c.removeAllMu.Lock()
	defer c.removeAllMu.Unlock()

	if err := c.backend.Dispose(ctx); err != nil {
		return fmt.Errorf("disk %s: dispose backend: %w", c.cfg.Name, err)
	}

	logger.Info("Disk cache disposed",
		logger.KeyRegion, c.cfg.Name,
		logger.DurationMs(start))
	return nil
}

// Status reports StatusError once the queue has torn itself down after a
// failed write.
func (c *Cache) Status() cache.Status {
	if c.disposed.Load() {
		return cache.StatusDisposed
	}
	if !c.queue.IsAlive() {
		return cache.StatusError
	}
	return cache.StatusAlive
}

// Size returns the number of elements on disk.
func (c *Cache) Size() int { return c.backend.Size() }

// PurgatorySize returns the number of staged writes.
func (c *Cache) PurgatorySize() int {
	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()
	return c.purgatory.Len()
}

// WaitDrained blocks until every queued write has been handled or ctx is
// done.
func (c *Cache) WaitDrained(ctx context.Context) error {
	return c.queue.WaitEmpty(ctx)
}

func (c *Cache) Stats() cache.Stats {
	q := c.queue.Stats()
	s := cache.Stats{TypeName: "Disk Cache"}
	s.Add("region", c.cfg.Name).
		Add("status", c.Status().String()).
		Add("purgatory_size", c.PurgatorySize()).
		Add("purgatory_hits", c.purgatoryHits.Load()).
		Add("purgatory_dropped", c.purgatoryDropped.Load()).
		Add("updates", c.updates.Load()).
		Add("disk_hits", c.diskHits.Load()).
		Add("misses", c.misses.Load()).
		Add("queue_id", q.ID).
		Add("queue_size", q.Size).
		Add("queue_alive", q.Alive).
		Add("queue_processed", q.Processed).
		Add("queue_failed", q.Failed)
	s.Children = append(s.Children, c.backend.Stats())
	return s
}
