// Package lru implements a bounded least-recently-used map with chunked
// overflow hand-off.
//
// Entries live in an arena slice and are linked by int32 handles instead of
// pointers. The index map and the recency list are mutated together under a
// single mutex, so a reader can never observe a key that is in one but not
// the other.
//
// When a Put pushes the map past its capacity, the least recently used
// entries are passed to a Spiller before they are unlinked. The spill runs
// inside the critical section and must not call back into the map.
package lru

import (
	"fmt"
	"sync"
)

// Spiller receives entries evicted for capacity.
type Spiller[K comparable, V any] interface {
	Spill(key K, value V)
}

// SpillFunc adapts a function to Spiller.
type SpillFunc[K comparable, V any] func(key K, value V)

func (f SpillFunc[K, V]) Spill(key K, value V) { f(key, value) }

type handle int32

const nilHandle handle = -1

type node[K comparable, V any] struct {
	key   K
	value V
	prev  handle
	next  handle
}

// Stats is a snapshot of the map's counters.
type Stats struct {
	Size       int
	MaxObjects int
	Hits       uint64
	Misses     uint64
	Puts       uint64
	Evictions  uint64
}

// Option configures a Map.
type Option func(*options)

type options struct {
	chunkSize int
}

// WithChunkSize sets how many entries are evicted at once when the map
// overflows. Values below 1 are treated as 1.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.chunkSize = n
	}
}

// Map is a thread-safe LRU map. The zero value is not usable; call New.
type Map[K comparable, V any] struct {
	mu sync.Mutex

	maxObjects int
	chunkSize  int
	spiller    Spiller[K, V]

	index map[K]handle
	nodes []node[K, V]
	free  []handle
	head  handle // most recently used
	tail  handle // least recently used

	hits, misses, puts, evictions uint64
}

// New creates a Map holding at most maxObjects entries. A negative
// maxObjects means unbounded; zero means every Put spills immediately.
// spiller may be nil, in which case evicted entries are dropped.
func New[K comparable, V any](maxObjects int, spiller Spiller[K, V], opts ...Option) *Map[K, V] {
	o := options{chunkSize: 1}
	for _, opt := range opts {
		opt(&o)
	}

	hint := maxObjects
	if hint < 0 || hint > 1<<16 {
		hint = 0
	}

	return &Map[K, V]{
		maxObjects: maxObjects,
		chunkSize:  o.chunkSize,
		spiller:    spiller,
		index:      make(map[K]handle, hint),
		head:       nilHandle,
		tail:       nilHandle,
	}
}

// ============================================================================
// Lookups
// ============================================================================

// Get returns the value for key and marks it most recently used.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.index[key]
	if !ok {
		m.misses++
		var zero V
		return zero, false
	}
	m.hits++
	m.moveToFront(h)
	return m.nodes[h].value, true
}

// Peek returns the value for key without touching recency or counters.
func (m *Map[K, V]) Peek(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return m.nodes[h].value, true
}

// Contains reports whether key is present without touching recency.
func (m *Map[K, V]) Contains(key K) bool {
	m.mu.Lock()
	_, ok := m.index[key]
	m.mu.Unlock()
	return ok
}

// ============================================================================
// Mutations
// ============================================================================

// Put stores value under key as the most recently used entry and returns the
// previous value if the key existed. If the map is then over capacity, the
// oldest min(Len, chunkSize) entries are spilled and removed.
func (m *Map[K, V]) Put(key K, value V) (prev V, replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++

	if h, ok := m.index[key]; ok {
		prev, replaced = m.nodes[h].value, true
		m.nodes[h].value = value
		m.moveToFront(h)
	} else {
		h := m.alloc(key, value)
		m.index[key] = h
		m.pushFront(h)
	}

	if m.maxObjects >= 0 && len(m.index) > m.maxObjects {
		m.evictLocked()
	}
	return prev, replaced
}

func (m *Map[K, V]) evictLocked() {
	n := min(len(m.index), m.chunkSize)
	for range n {
		h := m.tail
		nd := &m.nodes[h]
		if m.spiller != nil {
			m.spiller.Spill(nd.key, nd.value)
		}
		m.unlink(h)
		delete(m.index, nd.key)
		m.release(h)
		m.evictions++
	}
}

// Remove deletes key and returns its value.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	return m.RemoveFunc(key, nil)
}

// RemoveFunc deletes key only if pred accepts its current value. A nil pred
// accepts everything. pred runs under the map lock.
func (m *Map[K, V]) RemoveFunc(key K, pred func(V) bool) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	h, ok := m.index[key]
	if !ok {
		return zero, false
	}
	v := m.nodes[h].value
	if pred != nil && !pred(v) {
		return zero, false
	}
	m.unlink(h)
	delete(m.index, key)
	m.release(h)
	return v, true
}

// Clear removes every entry without spilling. Counters are kept.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.nodes)
	m.nodes = m.nodes[:0]
	m.free = m.free[:0]
	m.index = make(map[K]handle)
	m.head, m.tail = nilHandle, nilHandle
}

// ============================================================================
// Iteration & stats
// ============================================================================

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index)
}

// Keys returns the keys ordered from most to least recently used.
func (m *Map[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]K, 0, len(m.index))
	for h := m.head; h != nilHandle; h = m.nodes[h].next {
		keys = append(keys, m.nodes[h].key)
	}
	return keys
}

// Range calls fn for each entry from most to least recently used until fn
// returns false. fn runs under the map lock and must not call into m.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for h := m.head; h != nilHandle; h = m.nodes[h].next {
		if !fn(m.nodes[h].key, m.nodes[h].value) {
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (m *Map[K, V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Size:       len(m.index),
		MaxObjects: m.maxObjects,
		Hits:       m.hits,
		Misses:     m.misses,
		Puts:       m.puts,
		Evictions:  m.evictions,
	}
}

// MaxObjects returns the configured capacity.
func (m *Map[K, V]) MaxObjects() int {
	return m.maxObjects
}

// Verify walks the list in both directions and checks it against the
// index. It returns the first inconsistency found.
func (m *Map[K, V]) Verify() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	prev := nilHandle
	for h := m.head; h != nilHandle; h = m.nodes[h].next {
		nd := m.nodes[h]
		if nd.prev != prev {
			return fmt.Errorf("lru: node %d has prev %d, want %d", h, nd.prev, prev)
		}
		if ih, ok := m.index[nd.key]; !ok || ih != h {
			return fmt.Errorf("lru: key %v in list but index maps to %d (present=%v)", nd.key, ih, ok)
		}
		prev = h
		count++
		if count > len(m.nodes) {
			return fmt.Errorf("lru: cycle detected after %d nodes", count)
		}
	}
	if prev != m.tail {
		return fmt.Errorf("lru: tail is %d, last node is %d", m.tail, prev)
	}
	if count != len(m.index) {
		return fmt.Errorf("lru: list has %d nodes, index has %d keys", count, len(m.index))
	}
	return nil
}

// ============================================================================
// Arena & list internals (callers hold mu)
// ============================================================================

func (m *Map[K, V]) alloc(key K, value V) handle {
	if n := len(m.free); n > 0 {
		h := m.free[n-1]
		m.free = m.free[:n-1]
		m.nodes[h] = node[K, V]{key: key, value: value, prev: nilHandle, next: nilHandle}
		return h
	}
	m.nodes = append(m.nodes, node[K, V]{key: key, value: value, prev: nilHandle, next: nilHandle})
	return handle(len(m.nodes) - 1)
}

func (m *Map[K, V]) release(h handle) {
	m.nodes[h] = node[K, V]{prev: nilHandle, next: nilHandle}
	m.free = append(m.free, h)
}

func (m *Map[K, V]) pushFront(h handle) {
	m.nodes[h].prev = nilHandle
	m.nodes[h].next = m.head
	if m.head != nilHandle {
		m.nodes[m.head].prev = h
	}
	m.head = h
	if m.tail == nilHandle {
		m.tail = h
	}
}

func (m *Map[K, V]) unlink(h handle) {
	nd := &m.nodes[h]
	if nd.prev != nilHandle {
		m.nodes[nd.prev].next = nd.next
	} else {
		m.head = nd.next
	}
	if nd.next != nilHandle {
		m.nodes[nd.next].prev = nd.prev
	} else {
		m.tail = nd.prev
	}
	nd.prev, nd.next = nilHandle, nilHandle
}

func (m *Map[K, V]) moveToFront(h handle) {
	if m.head == h {
		return
	}
	m.unlink(h)
	m.pushFront(h)
}
