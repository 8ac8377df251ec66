// Package cache defines the element model, tier interfaces and errors shared
// by the memory tier, the disk overflow tier and regions.
package cache

import (
	"time"
)

// Element is a cached value together with its attributes. Values are opaque
// bytes; the cache never interprets them.
type Element struct {
	Key        string
	Value      []byte
	Attributes Attributes
}

// Attributes control the lifetime of an element and whether it may leave
// memory.
type Attributes struct {
	CreatedAt  time.Time
	LastAccess time.Time

	// MaxLife bounds the age of a non-eternal element. Zero means no limit.
	MaxLife time.Duration

	// MaxIdle bounds the time since LastAccess. Zero means no limit.
	MaxIdle time.Duration

	IsEternal bool

	// IsSpool allows the element to be written to the disk tier when it is
	// evicted from memory.
	IsSpool bool
}

// DefaultAttributes returns eternal, spoolable attributes stamped with now.
func DefaultAttributes() Attributes {
	now := time.Now()
	return Attributes{
		CreatedAt:  now,
		LastAccess: now,
		IsEternal:  true,
		IsSpool:    true,
	}
}

// NewElement builds an element with DefaultAttributes.
func NewElement(key string, value []byte) *Element {
	return &Element{Key: key, Value: value, Attributes: DefaultAttributes()}
}

// IsExpired reports whether the element has outlived MaxLife or MaxIdle at
// time now. Eternal elements never expire.
func (e *Element) IsExpired(now time.Time) bool {
	a := e.Attributes
	if a.IsEternal {
		return false
	}
	if a.MaxLife > 0 && now.Sub(a.CreatedAt) > a.MaxLife {
		return true
	}
	if a.MaxIdle > 0 && now.Sub(a.LastAccess) > a.MaxIdle {
		return true
	}
	return false
}

// Touch records an access.
func (e *Element) Touch(now time.Time) {
	e.Attributes.LastAccess = now
}

// Clone returns a deep copy. Tiers store clones so callers may reuse their
// buffers after Put returns.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := *e
	if e.Value != nil {
		c.Value = append(make([]byte, 0, len(e.Value)), e.Value...)
	}
	return &c
}

// Size is the approximate payload size in bytes.
func (e *Element) Size() int {
	return len(e.Key) + len(e.Value)
}
