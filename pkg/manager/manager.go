// Package manager owns the regions of a process.
//
// A Manager is built from configuration, creates the configured regions in
// Init, creates others on demand and disposes all of them in Shutdown. It
// replaces a process-wide singleton: callers pass the Manager to whatever
// needs regions.
package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/config"
	"github.com/marmos91/dittocache/pkg/disk"
	"github.com/marmos91/dittocache/pkg/disk/block"
	"github.com/marmos91/dittocache/pkg/metrics"
	"github.com/marmos91/dittocache/pkg/region"
)

var (
	// ErrRegionExists is returned when creating a region that already exists.
	ErrRegionExists = errors.New("manager: region already exists")

	// ErrRegionNotFound is returned when looking up an unknown region.
	ErrRegionNotFound = errors.New("manager: region not found")

	// ErrShutdown is returned by operations on a manager that has been shut
	// down.
	ErrShutdown = errors.New("manager: shut down")
)

// Manager manages all named regions.
//
// Example usage:
//
//	mgr := manager.New(cfg)
//	if err := mgr.Init(ctx); err != nil { ... }
//	defer mgr.Shutdown(ctx)
//
//	users, _ := mgr.GetOrCreate(ctx, "users")
//	_ = users.Put(ctx, "alice", data)
type Manager struct {
	cfg *config.Config

	cacheMetrics metrics.CacheMetrics
	diskMetrics  metrics.DiskMetrics
	blockMetrics metrics.BlockDiskMetrics

	mu       sync.RWMutex
	regions  map[string]*region.Region
	shutdown bool
}

// New creates an empty manager. Metrics are attached when the metrics
// registry has been initialized.
func New(cfg *config.Config) *Manager {
	return &Manager{
		cfg:          cfg,
		cacheMetrics: metrics.NewCacheMetrics(),
		diskMetrics:  metrics.NewDiskMetrics(),
		blockMetrics: metrics.NewBlockDiskMetrics(),
		regions:      make(map[string]*region.Region),
	}
}

// Config returns the configuration the manager was built from.
func (m *Manager) Config() *config.Config { return m.cfg }

// Init creates every region listed in the configuration. On failure the
// regions created so far are disposed.
func (m *Manager) Init(ctx context.Context) error {
	start := time.Now()
	for _, rc := range m.cfg.Regions {
		if _, err := m.Create(ctx, rc); err != nil {
			_ = m.Shutdown(ctx)
			return fmt.Errorf("failed to create region %q: %w", rc.Name, err)
		}
	}
	logger.Info("Regions initialized",
		"count", len(m.cfg.Regions),
		logger.DurationMs(start))
	return nil
}

// Create builds and registers a region from rc.
func (m *Manager) Create(ctx context.Context, rc config.RegionConfig) (*region.Region, error) {
	if rc.Name == "" {
		return nil, errors.New("manager: region name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, ErrShutdown
	}
	if _, exists := m.regions[rc.Name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrRegionExists, rc.Name)
	}

	r, err := m.build(ctx, rc)
	if err != nil {
		return nil, err
	}
	m.regions[rc.Name] = r
	return r, nil
}

// build requires m.mu held.
func (m *Manager) build(ctx context.Context, rc config.RegionConfig) (*region.Region, error) {
	var aux region.Auxiliary
	if rc.DiskEnabled() {
		bcfg := rc.BlockOptions()
		bcfg.Metrics = m.blockMetrics
		backend, err := block.Open(ctx, bcfg)
		if err != nil {
			return nil, err
		}
		aux = disk.New(rc.DiskOptions(), backend, disk.WithMetrics(m.diskMetrics))
	}
	return region.New(rc.RegionOptions(), aux, region.WithMetrics(m.cacheMetrics)), nil
}

// Get returns the region called name.
func (m *Manager) Get(name string) (*region.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shutdown {
		return nil, ErrShutdown
	}
	r, ok := m.regions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRegionNotFound, name)
	}
	return r, nil
}

// GetOrCreate returns the region called name, creating it from the
// configured defaults if needed.
func (m *Manager) GetOrCreate(ctx context.Context, name string) (*region.Region, error) {
	if r, err := m.Get(name); err == nil || !errors.Is(err, ErrRegionNotFound) {
		return r, err
	}

	r, err := m.Create(ctx, m.cfg.Region(name))
	if errors.Is(err, ErrRegionExists) {
		return m.Get(name)
	}
	return r, err
}

// Free disposes the region called name and forgets it.
func (m *Manager) Free(ctx context.Context, name string) error {
	m.mu.Lock()
	r, ok := m.regions[name]
	delete(m.regions, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrRegionNotFound, name)
	}
	return r.Dispose(ctx)
}

// Names returns the region names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.regions))
	for name := range m.regions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of regions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regions)
}

// Stats returns the stats of every region.
func (m *Manager) Stats() cache.Stats {
	s := cache.Stats{TypeName: "Cache Manager"}
	names := m.Names()
	s.Add("regions", len(names))
	for _, name := range names {
		if r, err := m.Get(name); err == nil {
			s.Children = append(s.Children, r.Stats())
		}
	}
	return s
}

// Shutdown disposes every region concurrently and rejects further use.
// Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	regions := m.regions
	m.regions = make(map[string]*region.Region)
	m.mu.Unlock()

	start := time.Now()
	var g errgroup.Group
	for name, r := range regions {
		g.Go(func() error {
			if err := r.Dispose(ctx); err != nil {
				logger.Error("Failed to dispose region", logger.KeyRegion, name, logger.Err(err))
				return fmt.Errorf("region %q: %w", name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	logger.Info("Cache manager shut down",
		"regions", len(regions),
		logger.DurationMs(start))
	return err
}
