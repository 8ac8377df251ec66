// Package serializer converts cache elements to and from the bytes stored in
// a block file.
package serializer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittocache/pkg/cache"
)

// ErrMalformed is returned when bytes cannot be decoded into an element.
var ErrMalformed = errors.New("serializer: malformed record")

// Serializer encodes elements for the disk tier.
type Serializer interface {
	Serialize(e *cache.Element) ([]byte, error)
	Deserialize(data []byte) (*cache.Element, error)
	Name() string
}

const (
	standardVersion = 1

	flagEternal = 1 << 0
	flagSpool   = 1 << 1
)

// Standard is the uncompressed binary encoding:
//
//	version  u8
//	flags    u8
//	created  varint (unix nanoseconds)
//	access   varint (unix nanoseconds, 0 when unset)
//	maxLife  varint (nanoseconds)
//	maxIdle  varint (nanoseconds)
//	key      uvarint length + bytes
//	value    uvarint length + bytes
type Standard struct{}

func (Standard) Name() string { return "standard" }

func (Standard) Serialize(e *cache.Element) ([]byte, error) {
	if e == nil {
		return nil, errors.New("serializer: nil element")
	}

	a := e.Attributes
	var flags byte
	if a.IsEternal {
		flags |= flagEternal
	}
	if a.IsSpool {
		flags |= flagSpool
	}

	buf := make([]byte, 0, 2+4*binary.MaxVarintLen64+2*binary.MaxVarintLen32+len(e.Key)+len(e.Value))
	buf = append(buf, standardVersion, flags)
	buf = binary.AppendVarint(buf, unixNano(a.CreatedAt))
	buf = binary.AppendVarint(buf, unixNano(a.LastAccess))
	buf = binary.AppendVarint(buf, int64(a.MaxLife))
	buf = binary.AppendVarint(buf, int64(a.MaxIdle))
	buf = binary.AppendUvarint(buf, uint64(len(e.Key)))
	buf = append(buf, e.Key...)
	buf = binary.AppendUvarint(buf, uint64(len(e.Value)))
	buf = append(buf, e.Value...)
	return buf, nil
}

func (Standard) Deserialize(data []byte) (*cache.Element, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if data[0] != standardVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrMalformed, data[0])
	}
	flags := data[1]
	r := reader{buf: data[2:]}

	created := r.varint()
	access := r.varint()
	maxLife := r.varint()
	maxIdle := r.varint()
	key := r.bytes()
	value := r.bytes()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf))
	}

	return &cache.Element{
		Key:   string(key),
		Value: append([]byte{}, value...),
		Attributes: cache.Attributes{
			CreatedAt:  fromUnixNano(created),
			LastAccess: fromUnixNano(access),
			MaxLife:    time.Duration(maxLife),
			MaxIdle:    time.Duration(maxIdle),
			IsEternal:  flags&flagEternal != 0,
			IsSpool:    flags&flagSpool != 0,
		},
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// reader decodes varint fields, keeping the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.err = fmt.Errorf("%w: bad varint", ErrMalformed)
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) bytes() []byte {
	if r.err != nil {
		return nil
	}
	l, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = fmt.Errorf("%w: bad length", ErrMalformed)
		return nil
	}
	r.buf = r.buf[n:]
	if l > uint64(len(r.buf)) {
		r.err = fmt.Errorf("%w: length %d exceeds %d remaining bytes", ErrMalformed, l, len(r.buf))
		return nil
	}
	out := r.buf[:l]
	r.buf = r.buf[l:]
	return out
}

// New returns the serializer for a compression name: "none" (or empty),
// "lz4", "zstd" or "s2".
func New(compression string) (Serializer, error) {
	if compression == "" || compression == "none" {
		return Standard{}, nil
	}
	c, err := ParseCodec(compression)
	if err != nil {
		return nil, err
	}
	return NewCompressing(Standard{}, c), nil
}
