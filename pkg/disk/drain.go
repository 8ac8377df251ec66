package disk

import (
	"context"
	"fmt"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/internal/telemetry"
	"github.com/marmos91/dittocache/pkg/eventqueue"
)

// Cache is the listener of its own write-behind queue.
var _ eventqueue.Listener[*PurgatoryElement] = (*Cache)(nil)

// HandlePut writes a staged element, unless it was removed, replaced or
// cancelled after it was queued.
func (c *Cache) HandlePut(ctx context.Context, pe *PurgatoryElement) error {
	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanDiskDrain, c.cfg.Name, pe.Key())
	defer span.End()

	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	pe.mu.Lock()
	defer pe.mu.Unlock()

	key := pe.Key()
	if !c.claim(pe) {
		logger.Debug("Skipping cancelled disk write",
			logger.KeyRegion, c.cfg.Name,
			logger.KeyKey, key)
		return nil
	}
	defer c.release(pe)

	if err := c.backend.Update(ctx, pe.elem); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("disk %s: write %q: %w", c.cfg.Name, key, err)
	}

	c.purgatory.RemoveFunc(key, func(v *PurgatoryElement) bool { return v == pe })
	c.observeDepth()
	return nil
}

// claim marks pe as the element being written, unless it was removed,
// replaced or cancelled. Requires pe.mu held.
func (c *Cache) claim(pe *PurgatoryElement) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	cur, ok := c.purgatory.Peek(pe.Key())
	if !ok || cur != pe || !pe.spoolable.Load() {
		return false
	}
	c.inflight = pe
	return true
}

func (c *Cache) release(pe *PurgatoryElement) {
	c.inflightMu.Lock()
	if c.inflight == pe {
		c.inflight = nil
	}
	c.inflightMu.Unlock()
}

// writing returns the element being written for key, if any.
func (c *Cache) writing(key string) *PurgatoryElement {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if c.inflight != nil && c.inflight.Key() == key {
		return c.inflight
	}
	return nil
}

// HandleRemove removes key from the Backend.
func (c *Cache) HandleRemove(ctx context.Context, key string) error {
	c.removeAllMu.RLock()
	defer c.removeAllMu.RUnlock()

	if _, err := c.backend.Remove(ctx, key); err != nil {
		return fmt.Errorf("disk %s: remove %q: %w", c.cfg.Name, key, err)
	}
	return nil
}

// HandleRemoveAll clears the Backend.
func (c *Cache) HandleRemoveAll(ctx context.Context) error {
	c.removeAllMu.Lock()
	defer c.removeAllMu.Unlock()

	if err := c.backend.RemoveAll(ctx); err != nil {
		return fmt.Errorf("disk %s: remove all: %w", c.cfg.Name, err)
	}
	return nil
}

// HandleDispose marks the end of the drain. The Backend itself is disposed
// by Dispose once the queue has stopped.
func (c *Cache) HandleDispose(context.Context) error {
	logger.Debug("Disk queue drained", logger.KeyRegion, c.cfg.Name)
	return nil
}
