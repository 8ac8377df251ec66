// Package keystore defines the index that maps a cache key to the ordered
// block numbers holding its record in a block file.
//
// Implementations live in sub-packages:
//   - memory: in-process map, lost on restart, optionally bounded
//   - badger: persistent BadgerDB index next to the block file
package keystore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("keystore: closed")

// Store is a key to block-list index. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the blocks recorded for key.
	Get(ctx context.Context, key string) ([]uint32, bool, error)

	// Put records blocks for key and returns the blocks it replaces, if
	// any, so the caller can free them.
	Put(ctx context.Context, key string, blocks []uint32) ([]uint32, error)

	// Remove drops key and returns its blocks.
	Remove(ctx context.Context, key string) ([]uint32, bool, error)

	// Keys returns every indexed key, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Len returns the number of indexed keys.
	Len() int

	// Used returns every block number referenced by the index.
	Used(ctx context.Context) (*roaring.Bitmap, error)

	// Clear drops every key.
	Clear(ctx context.Context) error

	Close() error
}

// EncodeBlocks packs a block list as consecutive big-endian uint32s.
func EncodeBlocks(blocks []uint32) []byte {
	out := make([]byte, 4*len(blocks))
	for i, b := range blocks {
		binary.BigEndian.PutUint32(out[4*i:], b)
	}
	return out
}

// DecodeBlocks reverses EncodeBlocks.
func DecodeBlocks(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("keystore: block list of %d bytes is not a multiple of 4", len(data))
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(data[4*i:])
	}
	return out, nil
}
