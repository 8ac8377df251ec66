package disk

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/lru"
)

// PurgatoryElement is an element accepted by the disk tier but not yet
// written. Clearing Spoolable cancels the pending write.
type PurgatoryElement struct {
	// mu serialises the drain's write against a concurrent Remove.
	mu        sync.Mutex
	elem      *cache.Element
	spoolable atomic.Bool
}

func newPurgatoryElement(e *cache.Element) *PurgatoryElement {
	pe := &PurgatoryElement{elem: e}
	pe.spoolable.Store(true)
	return pe
}

// Key returns the staged element's key.
func (pe *PurgatoryElement) Key() string { return pe.elem.Key }

// Spoolable reports whether the element is still due to be written.
func (pe *PurgatoryElement) Spoolable() bool { return pe.spoolable.Load() }

type purgatory = lru.Map[string, *PurgatoryElement]

// newPurgatory creates the staging map. A bounded purgatory cancels the
// writes it evicts; onDrop is told about each one.
func newPurgatory(maxSize int, onDrop func(*PurgatoryElement)) *purgatory {
	if maxSize < 0 {
		return lru.New[string, *PurgatoryElement](-1, nil)
	}
	return lru.New(maxSize, lru.SpillFunc[string, *PurgatoryElement](func(_ string, pe *PurgatoryElement) {
		// Runs under the purgatory lock: no element lock here.
		pe.spoolable.Store(false)
		onDrop(pe)
	}))
}
