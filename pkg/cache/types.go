package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("cache: key not found")

	// ErrDisposed is returned by operations on a disposed tier or region.
	ErrDisposed = errors.New("cache: disposed")

	// ErrEmptyKey is returned when an element has no key.
	ErrEmptyKey = errors.New("cache: empty key")
)

// ============================================================================
// Tiers
// ============================================================================

// Tier is the operation set shared by the memory and disk tiers.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (*Element, error)
	Update(ctx context.Context, elem *Element) error
	Remove(ctx context.Context, key string) (bool, error)
	RemoveAll(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Size() int
	Stats() Stats
	Status() Status
	Dispose(ctx context.Context) error
}

// Status is the lifecycle state of a tier or region.
type Status int

const (
	StatusAlive Status = iota
	StatusDisposed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusDisposed:
		return "disposed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ============================================================================
// Stats
// ============================================================================

// Stat is one named statistic.
type Stat struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Stats is a tree of statistics: a component's own values plus those of the
// components it wraps.
type Stats struct {
	TypeName string  `json:"type"`
	Values   []Stat  `json:"values"`
	Children []Stats `json:"children,omitempty"`
}

// Add appends a value and returns s for chaining.
func (s *Stats) Add(name string, value any) *Stats {
	s.Values = append(s.Values, Stat{Name: name, Value: value})
	return s
}

// Lookup returns the value of the first stat called name in s or its
// children, depth first.
func (s Stats) Lookup(name string) (any, bool) {
	for _, v := range s.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	for _, c := range s.Children {
		if v, ok := c.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (s Stats) String() string {
	var b strings.Builder
	s.write(&b, 0)
	return b.String()
}

func (s Stats) write(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s\n", indent, s.TypeName)
	for _, v := range s.Values {
		fmt.Fprintf(b, "%s  %s = %v\n", indent, v.Name, v.Value)
	}
	for _, c := range s.Children {
		c.write(b, depth+1)
	}
}
