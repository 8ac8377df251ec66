// Package region joins a memory tier and an optional disk overflow tier
// into one named cache.
//
// Reads check memory first, then disk; a disk hit is promoted back into
// memory. Writes go to memory, and elements evicted from memory for
// capacity are spooled to disk. Expired elements are treated as misses and
// removed from both tiers.
package region

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/internal/telemetry"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/memory"
	"github.com/marmos91/dittocache/pkg/metrics"
)

// Disk usage patterns.
const (
	// DiskUsageSwap writes to disk only when elements are evicted from
	// memory.
	DiskUsageSwap = "swap"

	// DiskUsageUpdate writes every update to disk as well as memory.
	DiskUsageUpdate = "update"
)

// Auxiliary is the overflow tier behind memory. disk.Cache implements it.
type Auxiliary interface {
	cache.Tier
	GetMatching(ctx context.Context, pattern string) (map[string]*cache.Element, error)
}

// Config configures a Region.
type Config struct {
	Name string

	// MaxObjects and ChunkSize configure the memory tier.
	MaxObjects int
	ChunkSize  int

	// DiskUsage is DiskUsageSwap (default) or DiskUsageUpdate.
	DiskUsage string

	// Attributes are applied to elements stored with Put.
	Attributes cache.Attributes
}

// DefaultConfig returns a region holding 1000 elements in memory, spilling
// one at a time, with eternal spoolable elements.
func DefaultConfig(name string) Config {
	return Config{
		Name:       name,
		MaxObjects: 1000,
		ChunkSize:  1,
		DiskUsage:  DiskUsageSwap,
		Attributes: cache.Attributes{IsEternal: true, IsSpool: true},
	}
}

// Option configures a Region.
type Option func(*Region)

// WithMetrics attaches cache metrics to the region and its memory tier.
func WithMetrics(m metrics.CacheMetrics) Option {
	return func(r *Region) { r.metrics = m }
}

// WithMatcher replaces the default regular expression key matcher.
func WithMatcher(m cache.KeyMatcher) Option {
	return func(r *Region) { r.matcher = m }
}

// Region is a named two-tier cache.
type Region struct {
	id      uuid.UUID
	cfg     Config
	memory  *memory.LRUCache
	aux     Auxiliary
	matcher cache.KeyMatcher
	metrics metrics.CacheMetrics

	disposed atomic.Bool

	memoryHits atomic.Uint64
	diskHits   atomic.Uint64
	misses     atomic.Uint64
	expired    atomic.Uint64
	updates    atomic.Uint64
}

// New creates a region. aux may be nil for a memory-only region.
func New(cfg Config, aux Auxiliary, opts ...Option) *Region {
	if cfg.DiskUsage == "" {
		cfg.DiskUsage = DiskUsageSwap
	}

	r := &Region{
		id:      uuid.New(),
		cfg:     cfg,
		aux:     aux,
		matcher: cache.NewRegexMatcher(),
	}
	for _, opt := range opts {
		opt(r)
	}

	var overflow memory.Overflow
	if aux != nil {
		overflow = memory.OverflowFunc(r.spool)
	}
	r.memory = memory.New(memory.Config{
		Name:       cfg.Name,
		MaxObjects: cfg.MaxObjects,
		ChunkSize:  cfg.ChunkSize,
	}, overflow, memory.WithMetrics(r.metrics))

	logger.Info("Region created",
		logger.KeyRegion, cfg.Name,
		"id", r.id.String(),
		logger.KeyCapacity, cfg.MaxObjects,
		"disk", aux != nil,
		"disk_usage", cfg.DiskUsage)
	return r
}

// spool forwards an element evicted from memory to the disk tier. It runs
// under the memory tier's lock.
func (r *Region) spool(elem *cache.Element) {
	if err := r.aux.Update(context.Background(), elem); err != nil {
		logger.Warn("Failed to spool element to disk",
			logger.KeyRegion, r.cfg.Name,
			logger.KeyKey, elem.Key,
			logger.Err(err))
	}
}

func (r *Region) ID() uuid.UUID { return r.id }

func (r *Region) Name() string { return r.cfg.Name }

// Config returns the region configuration.
func (r *Region) Config() Config { return r.cfg }

// ============================================================================
// Reads
// ============================================================================

// Get returns the element for key from memory or disk. It returns
// cache.ErrNotFound on a miss or when the element has expired.
func (r *Region) Get(ctx context.Context, key string) (*cache.Element, error) {
	if r.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanRegionGet, r.cfg.Name, key)
	defer span.End()

	e, source, err := r.get(ctx, key)
	span.SetAttributes(telemetry.Hit(err == nil), telemetry.Source(source))
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		telemetry.RecordError(ctx, err)
	}
	return e, err
}

func (r *Region) get(ctx context.Context, key string) (*cache.Element, string, error) {
	now := time.Now()

	e, err := r.memory.Get(ctx, key)
	if err == nil {
		if e.IsExpired(now) {
			return nil, metrics.TierMemory, r.expire(ctx, key)
		}
		r.memoryHits.Add(1)
		return e, metrics.TierMemory, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, metrics.TierMemory, err
	}

	if r.aux == nil {
		r.misses.Add(1)
		return nil, metrics.TierMemory, cache.ErrNotFound
	}

	start := time.Now()
	e, err = r.aux.Get(ctx, key)
	hit := err == nil
	metrics.ObserveGet(r.metrics, r.cfg.Name, metrics.TierDisk, hit, start)
	if errors.Is(err, cache.ErrNotFound) {
		r.misses.Add(1)
		return nil, metrics.TierDisk, err
	}
	if err != nil {
		return nil, metrics.TierDisk, err
	}
	if e.IsExpired(now) {
		return nil, metrics.TierDisk, r.expire(ctx, key)
	}

	r.diskHits.Add(1)
	e.Touch(now)
	if err := r.memory.Update(ctx, e); err != nil {
		return nil, metrics.TierDisk, err
	}
	return e, metrics.TierDisk, nil
}

// expire removes key from both tiers and reports it as a miss.
func (r *Region) expire(ctx context.Context, key string) error {
	r.expired.Add(1)
	metrics.RecordExpired(r.metrics, r.cfg.Name)
	logger.DebugCtx(ctx, "Element expired",
		logger.KeyRegion, r.cfg.Name,
		logger.KeyKey, key)

	if _, err := r.remove(ctx, key); err != nil {
		return err
	}
	return cache.ErrNotFound
}

// GetMultiple returns the elements found for keys. Missing and expired keys
// are omitted.
func (r *Region) GetMultiple(ctx context.Context, keys []string) (map[string]*cache.Element, error) {
	out := make(map[string]*cache.Element, len(keys))
	for _, k := range keys {
		e, err := r.Get(ctx, k)
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

// GetMatching returns every live element whose key matches pattern. The
// pattern is a regular expression matched against the whole key. Memory
// wins over disk when a key is in both tiers.
func (r *Region) GetMatching(ctx context.Context, pattern string) (map[string]*cache.Element, error) {
	if r.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanRegionMatch, r.cfg.Name, "",
		telemetry.Pattern(pattern))
	defer span.End()

	keys, err := r.memory.Keys(ctx)
	if err != nil {
		return nil, err
	}
	matched, err := r.matcher.Match(pattern, keys)
	if err != nil {
		return nil, err
	}

	found := make(map[string]*cache.Element, len(matched))
	for _, k := range matched {
		if e, err := r.memory.GetQuiet(k); err == nil {
			found[k] = e
		}
	}

	if r.aux != nil {
		onDisk, err := r.aux.GetMatching(ctx, pattern)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, err
		}
		for k, e := range onDisk {
			if _, ok := found[k]; !ok {
				found[k] = e
			}
		}
	}

	now := time.Now()
	for k, e := range found {
		if e.IsExpired(now) {
			delete(found, k)
			if err := r.expire(ctx, k); err != nil && !errors.Is(err, cache.ErrNotFound) {
				logger.WarnCtx(ctx, "Failed to remove expired element",
					logger.KeyRegion, r.cfg.Name,
					logger.KeyKey, k,
					logger.Err(err))
			}
		}
	}

	span.SetAttributes(telemetry.Matches(len(found)))
	return found, nil
}

// Keys returns the union of memory and disk keys, memory first.
func (r *Region) Keys(ctx context.Context) ([]string, error) {
	if r.disposed.Load() {
		return nil, cache.ErrDisposed
	}

	keys, err := r.memory.Keys(ctx)
	if err != nil || r.aux == nil {
		return keys, err
	}
	diskKeys, err := r.aux.Keys(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range diskKeys {
		if _, dup := seen[k]; !dup {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// ============================================================================
// Writes
// ============================================================================

// Put stores value under key with the region's default attributes.
func (r *Region) Put(ctx context.Context, key string, value []byte) error {
	now := time.Now()
	attrs := r.cfg.Attributes
	attrs.CreatedAt, attrs.LastAccess = now, now
	return r.Update(ctx, &cache.Element{Key: key, Value: value, Attributes: attrs})
}

// Update stores elem in memory. With DiskUsageUpdate a spoolable element is
// also written to disk.
func (r *Region) Update(ctx context.Context, elem *cache.Element) error {
	if r.disposed.Load() {
		return cache.ErrDisposed
	}
	if elem == nil || elem.Key == "" {
		return cache.ErrEmptyKey
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanRegionPut, r.cfg.Name, elem.Key)
	defer span.End()

	if err := r.memory.Update(ctx, elem); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if r.aux != nil && r.cfg.DiskUsage == DiskUsageUpdate && elem.Attributes.IsSpool {
		if err := r.aux.Update(ctx, elem); err != nil {
			telemetry.RecordError(ctx, err)
			return err
		}
	}
	r.updates.Add(1)
	return nil
}

// Remove deletes key from both tiers and reports whether either held it.
func (r *Region) Remove(ctx context.Context, key string) (bool, error) {
	if r.disposed.Load() {
		return false, cache.ErrDisposed
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanRegionRemove, r.cfg.Name, key)
	defer span.End()

	removed, err := r.remove(ctx, key)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return removed, err
}

func (r *Region) remove(ctx context.Context, key string) (bool, error) {
	inMemory, err := r.memory.Remove(ctx, key)
	if err != nil {
		return false, err
	}
	if r.aux == nil {
		return inMemory, nil
	}
	onDisk, err := r.aux.Remove(ctx, key)
	if err != nil {
		return inMemory, err
	}
	if onDisk {
		metrics.RecordRemove(r.metrics, r.cfg.Name, metrics.TierDisk)
	}
	return inMemory || onDisk, nil
}

// RemoveAll clears both tiers.
func (r *Region) RemoveAll(ctx context.Context) error {
	if r.disposed.Load() {
		return cache.ErrDisposed
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanRegionRemoveAll, r.cfg.Name, "")
	defer span.End()

	if err := r.memory.RemoveAll(ctx); err != nil {
		return err
	}
	if r.aux != nil {
		if err := r.aux.RemoveAll(ctx); err != nil {
			telemetry.RecordError(ctx, err)
			return err
		}
	}
	logger.InfoCtx(ctx, "Region cleared", logger.KeyRegion, r.cfg.Name)
	return nil
}

// ============================================================================
// Lifecycle & stats
// ============================================================================

// Dispose spools the memory tier to disk, then disposes both tiers. It is
// safe to call more than once.
func (r *Region) Dispose(ctx context.Context) error {
	if !r.disposed.CompareAndSwap(false, true) {
		return nil
	}

	start := time.Now()
	spooled := 0
	if r.aux != nil {
		spooled = r.memory.SpoolAll(ctx)
	}

	var errs []error
	if err := r.memory.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}
	if r.aux != nil {
		if err := r.aux.Dispose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disk: %w", err))
		}
	}

	logger.Info("Region disposed",
		logger.KeyRegion, r.cfg.Name,
		"spooled", spooled,
		logger.DurationMs(start))
	return errors.Join(errs...)
}

// Status is StatusError if the disk tier has failed.
func (r *Region) Status() cache.Status {
	if r.disposed.Load() {
		return cache.StatusDisposed
	}
	if r.aux != nil && r.aux.Status() == cache.StatusError {
		return cache.StatusError
	}
	return cache.StatusAlive
}

// Size returns the number of elements in memory.
func (r *Region) Size() int { return r.memory.Size() }

// DiskSize returns the number of elements on disk, or 0 without a disk
// tier.
func (r *Region) DiskSize() int {
	if r.aux == nil {
		return 0
	}
	return r.aux.Size()
}

// Verify checks the memory tier's internal consistency.
func (r *Region) Verify() error {
	if err := r.memory.Verify(); err != nil {
		return fmt.Errorf("region %s: %w", r.cfg.Name, err)
	}
	return nil
}

func (r *Region) Stats() cache.Stats {
	s := cache.Stats{TypeName: "Region"}
	s.Add("name", r.cfg.Name).
		Add("id", r.id.String()).
		Add("status", r.Status().String()).
		Add("memory_hits", r.memoryHits.Load()).
		Add("disk_hits", r.diskHits.Load()).
		Add("misses", r.misses.Load()).
		Add("expired", r.expired.Load()).
		Add("updates", r.updates.Load())
	s.Children = append(s.Children, r.memory.Stats())
	if r.aux != nil {
		s.Children = append(s.Children, r.aux.Stats())
	}
	return s
}
