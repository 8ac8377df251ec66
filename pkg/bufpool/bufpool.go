// Package bufpool recycles byte slices for block frames and serialized
// elements.
//
// Buffers are grouped in power-of-two size classes between MinSize and
// MaxSize. Requests above MaxSize are allocated directly and never pooled,
// so an occasional huge element does not pin memory.
//
//	buf := bufpool.Get(n)
//	defer bufpool.Put(buf)
package bufpool

import (
	"math/bits"
	"sync"
)

const (
	// MinSize is the smallest pooled class (512B).
	MinSize = 512

	// MaxSize is the largest pooled class (4MiB).
	MaxSize = 4 << 20
)

var (
	minShift = bits.Len(MinSize - 1)
	maxShift = bits.Len(MaxSize - 1)
)

// Pool is a set of sync.Pools, one per size class.
type Pool struct {
	classes []sync.Pool
}

// New returns an empty pool.
func New() *Pool {
	p := &Pool{classes: make([]sync.Pool, maxShift-minShift+1)}
	for i := range p.classes {
		size := 1 << (minShift + i)
		p.classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// class returns the index of the smallest class holding size bytes, or -1.
func class(size int) int {
	if size > MaxSize {
		return -1
	}
	shift := bits.Len(uint(size - 1))
	if size <= MinSize {
		shift = minShift
	}
	return shift - minShift
}

// Get returns a slice of length size. Its capacity is the class size.
func (p *Pool) Get(size int) []byte {
	c := class(size)
	if c < 0 {
		return make([]byte, size)
	}
	bp := p.classes[c].Get().(*[]byte)
	return (*bp)[:size]
}

// Put returns buf to its class. Buffers whose capacity is not exactly a
// class size, including oversized ones, are dropped.
func (p *Pool) Put(buf []byte) {
	n := cap(buf)
	if n < MinSize || n > MaxSize || n&(n-1) != 0 {
		return
	}
	buf = buf[:n]
	p.classes[class(n)].Put(&buf)
}

var global = New()

// Get takes a buffer from the package-level pool.
func Get(size int) []byte { return global.Get(size) }

// Put returns a buffer to the package-level pool.
func Put(buf []byte) { global.Put(buf) }
