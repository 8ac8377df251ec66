// Package blockdisk stores variable-length records in a file of fixed-size
// blocks.
//
// A record is split into chunks of at most BlockSize-HeaderSize bytes. Each
// chunk occupies one block and is written as a 4-byte big-endian length
// followed by the payload, at offset blockNumber*BlockSize. Write returns
// the ordered block numbers; keeping them is the caller's job, the file has
// no index of its own.
//
// Freed block numbers go to a FIFO free list and are handed out again before
// the file grows. Block contents are never zeroed or checksummed; the only
// integrity check is that a header never points past the end of the file.
package blockdisk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/internal/telemetry"
	"github.com/marmos91/dittocache/pkg/bufpool"
	"github.com/marmos91/dittocache/pkg/metrics"
)

const (
	// HeaderSize is the length prefix written at the start of every block.
	HeaderSize = 4

	// DefaultBlockSize is used when no WithBlockSize option is given.
	DefaultBlockSize = 4096

	// MinBlockSize leaves room for the header plus at least one byte.
	MinBlockSize = HeaderSize + 1
)

var (
	// ErrCorrupt is returned when a block header points past the end of the
	// file or exceeds the block size. The store should be Reset.
	ErrCorrupt = errors.New("blockdisk: corrupt block")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("blockdisk: closed")

	// ErrFull is returned when no more block numbers can be allocated.
	ErrFull = errors.New("blockdisk: block numbers exhausted")

	// ErrNoBlocks is returned by Read for an empty block list.
	ErrNoBlocks = errors.New("blockdisk: no blocks to read")
)

// Option configures a Store.
type Option func(*Store)

// WithBlockSize sets the block size in bytes. It is fixed for the life of
// the file.
func WithBlockSize(n int) Option {
	return func(s *Store) { s.blockSize = n }
}

// WithSyncWrites controls whether Write forces data to stable storage
// before returning. Enabled by default.
func WithSyncWrites(on bool) Option {
	return func(s *Store) { s.syncWrites = on }
}

// WithMetrics attaches block file metrics. nil disables them.
func WithMetrics(m metrics.BlockDiskMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is a block file. All methods are safe for concurrent use.
type Store struct {
	path       string
	name       string
	blockSize  int
	syncWrites bool
	metrics    metrics.BlockDiskMetrics

	// io is held shared by Read and Write, exclusively by Reset and Close,
	// so the file is never truncated under an in-flight I/O.
	io     sync.RWMutex
	f      *os.File
	closed bool

	// alloc guards the allocator and counters.
	alloc     sync.Mutex
	numBlocks uint32
	freeList  []uint32 // FIFO, head at index 0
	freeSet   *roaring.Bitmap
	fileLen   int64
	putBytes  uint64
	putCount  uint64
}

// Open opens or creates the block file at path. An existing file's block
// count is derived from its length; its free list starts empty until
// RebuildFreeList is called.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:       path,
		name:       filepath.Base(path),
		blockSize:  DefaultBlockSize,
		syncWrites: true,
		freeSet:    roaring.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.blockSize < MinBlockSize {
		return nil, fmt.Errorf("blockdisk: block size %d below minimum %d", s.blockSize, MinBlockSize)
	}
	if int64(s.blockSize) > math.MaxUint32 {
		return nil, fmt.Errorf("blockdisk: block size %d too large", s.blockSize)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("blockdisk: create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdisk: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("blockdisk: stat %s: %w", path, err)
	}

	s.f = f
	s.fileLen = info.Size()
	bs := int64(s.blockSize)
	s.numBlocks = uint32((s.fileLen + bs - 1) / bs)

	logger.Debug("Block file opened",
		logger.KeyPath, path,
		logger.KeyBlockSize, s.blockSize,
		logger.KeyBlocks, s.numBlocks)

	return s, nil
}

// BlocksNeeded returns how many blocks a record of n bytes occupies with
// the given block size. An empty record still takes one block.
func BlocksNeeded(n, blockSize int) int {
	chunk := blockSize - HeaderSize
	if n <= chunk {
		return 1
	}
	return (n + chunk - 1) / chunk
}

// BlockSize returns the fixed block size.
func (s *Store) BlockSize() int { return s.blockSize }

// Path returns the data file path.
func (s *Store) Path() string { return s.path }

// ============================================================================
// Write
// ============================================================================

// Write stores data and returns the blocks it occupies, in order. If an
// error is returned the block numbers allocated for this call are lost;
// previously written records are not touched.
func (s *Store) Write(ctx context.Context, data []byte) ([]uint32, error) {
	ctx, span := telemetry.StartBlockSpan(ctx, telemetry.SpanBlockWrite, telemetry.Bytes(len(data)))
	defer span.End()

	start := time.Now()

	s.io.RLock()
	defer s.io.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	n := BlocksNeeded(len(data), s.blockSize)
	blocks, err := s.allocate(n)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	if n == 1 {
		err = s.writeBlock(blocks[0], data)
	} else {
		chunk := s.blockSize - HeaderSize
		for i, b := range blocks {
			lo := i * chunk
			hi := min(lo+chunk, len(data))
			if err = s.writeBlock(b, data[lo:hi]); err != nil {
				break
			}
		}
	}
	if err == nil && s.syncWrites {
		err = syncData(s.f)
		if err != nil {
			err = fmt.Errorf("blockdisk: sync %s: %w", s.path, err)
		}
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	s.alloc.Lock()
	s.putBytes += uint64(len(data))
	s.putCount++
	s.alloc.Unlock()

	span.SetAttributes(telemetry.Blocks(n))
	if s.metrics != nil {
		s.metrics.ObserveWrite(s.name, len(data), n, time.Since(start))
	}
	return blocks, nil
}

func (s *Store) writeBlock(block uint32, chunk []byte) error {
	buf := bufpool.Get(HeaderSize + len(chunk))
	defer bufpool.Put(buf)

	binary.BigEndian.PutUint32(buf, uint32(len(chunk)))
	copy(buf[HeaderSize:], chunk)

	off := s.offset(block)
	if _, err := s.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("blockdisk: write block %d: %w", block, err)
	}

	end := off + int64(len(buf))
	s.alloc.Lock()
	if end > s.fileLen {
		s.fileLen = end
	}
	s.alloc.Unlock()
	return nil
}

// allocate takes n block numbers, preferring the free list.
func (s *Store) allocate(n int) ([]uint32, error) {
	s.alloc.Lock()
	defer s.alloc.Unlock()

	blocks := make([]uint32, n)
	for i := range blocks {
		if len(s.freeList) > 0 {
			b := s.freeList[0]
			s.freeList = s.freeList[1:]
			s.freeSet.Remove(b)
			blocks[i] = b
			continue
		}
		if s.numBlocks == math.MaxUint32 {
			// Return what was taken so far.
			s.freeLocked(blocks[:i])
			return nil, ErrFull
		}
		blocks[i] = s.numBlocks
		s.numBlocks++
	}
	return blocks, nil
}

// ============================================================================
// Read
// ============================================================================

// Read returns the record stored in blocks.
func (s *Store) Read(ctx context.Context, blocks []uint32) ([]byte, error) {
	ctx, span := telemetry.StartBlockSpan(ctx, telemetry.SpanBlockRead, telemetry.Blocks(len(blocks)))
	defer span.End()

	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}

	start := time.Now()

	s.io.RLock()
	defer s.io.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	s.alloc.Lock()
	fileLen := s.fileLen
	s.alloc.Unlock()

	var (
		data []byte
		err  error
	)
	if len(blocks) == 1 {
		data, err = s.readBlock(blocks[0], fileLen, []byte{})
	} else {
		data = make([]byte, 0, len(blocks)*(s.blockSize-HeaderSize))
		for _, b := range blocks {
			if data, err = s.readBlock(b, fileLen, data); err != nil {
				break
			}
		}
	}
	if err != nil {
		if errors.Is(err, ErrCorrupt) && s.metrics != nil {
			s.metrics.RecordCorruption(s.name)
		}
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(telemetry.Bytes(len(data)))
	if s.metrics != nil {
		s.metrics.ObserveRead(s.name, len(data), time.Since(start))
	}
	return data, nil
}

// readBlock appends the payload of block to dst.
func (s *Store) readBlock(block uint32, fileLen int64, dst []byte) ([]byte, error) {
	off := s.offset(block)

	var hdr [HeaderSize]byte
	if off+HeaderSize > fileLen {
		return nil, fmt.Errorf("%w: block %d header at %d beyond file length %d", ErrCorrupt, block, off, fileLen)
	}
	if _, err := s.f.ReadAt(hdr[:], off); err != nil {
		return nil, fmt.Errorf("blockdisk: read block %d header: %w", block, err)
	}

	n := int64(binary.BigEndian.Uint32(hdr[:]))
	if n > int64(s.blockSize-HeaderSize) || off+HeaderSize+n > fileLen {
		return nil, fmt.Errorf("%w: block %d claims %d bytes (file length %d)", ErrCorrupt, block, n, fileLen)
	}

	l := len(dst)
	dst = append(dst, make([]byte, n)...)
	if _, err := s.f.ReadAt(dst[l:], off+HeaderSize); err != nil {
		return nil, fmt.Errorf("blockdisk: read block %d: %w", block, err)
	}
	return dst, nil
}

// ============================================================================
// Free list
// ============================================================================

// Free returns blocks to the free list. Numbers already free or beyond the
// end of the file are ignored.
func (s *Store) Free(blocks []uint32) {
	s.alloc.Lock()
	s.freeLocked(blocks)
	total, free := int(s.numBlocks), len(s.freeList)
	s.alloc.Unlock()

	if s.metrics != nil {
		s.metrics.SetBlocks(s.name, total, free)
	}
}

func (s *Store) freeLocked(blocks []uint32) {
	for _, b := range blocks {
		if b >= s.numBlocks {
			continue
		}
		if s.freeSet.CheckedAdd(b) {
			s.freeList = append(s.freeList, b)
		}
	}
}

// RebuildFreeList replaces the free list with every block below the current
// block count that is not in used. Called at startup once the key index has
// been loaded.
func (s *Store) RebuildFreeList(used *roaring.Bitmap) {
	s.alloc.Lock()
	defer s.alloc.Unlock()

	all := roaring.New()
	all.AddRange(0, uint64(s.numBlocks))
	all.AndNot(used)

	s.freeSet = all
	s.freeList = all.ToArray()

	logger.Debug("Free list rebuilt",
		logger.KeyPath, s.path,
		logger.KeyBlocks, s.numBlocks,
		logger.KeyFreeList, len(s.freeList))
}

// ============================================================================
// Lifecycle
// ============================================================================

// Reset truncates the file and forgets every block.
func (s *Store) Reset(ctx context.Context) error {
	_, span := telemetry.StartBlockSpan(ctx, telemetry.SpanBlockReset)
	defer span.End()

	s.io.Lock()
	defer s.io.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.f.Truncate(0); err != nil {
		return fmt.Errorf("blockdisk: truncate %s: %w", s.path, err)
	}

	s.alloc.Lock()
	s.numBlocks = 0
	s.freeList = nil
	s.freeSet = roaring.New()
	s.fileLen = 0
	s.putBytes = 0
	s.putCount = 0
	s.alloc.Unlock()

	if s.metrics != nil {
		s.metrics.SetBlocks(s.name, 0, 0)
	}
	logger.Info("Block file reset", logger.KeyPath, s.path)
	return nil
}

// Close syncs and closes the file. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.io.Lock()
	defer s.io.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	syncErr := s.f.Sync()
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("blockdisk: close %s: %w", s.path, err)
	}
	return syncErr
}

func (s *Store) offset(block uint32) int64 {
	return int64(block) * int64(s.blockSize)
}

// ============================================================================
// Stats
// ============================================================================

// Stats is a snapshot of the store's counters.
type Stats struct {
	BlockSize   int
	Blocks      uint32
	EmptyBlocks int
	FileLength  int64
	PutBytes    uint64
	PutCount    uint64
}

// AveragePutSize returns the mean record size written since open or reset.
func (st Stats) AveragePutSize() uint64 {
	if st.PutCount == 0 {
		return 0
	}
	return st.PutBytes / st.PutCount
}

func (s *Store) Stats() Stats {
	s.alloc.Lock()
	defer s.alloc.Unlock()
	return Stats{
		BlockSize:   s.blockSize,
		Blocks:      s.numBlocks,
		EmptyBlocks: len(s.freeList),
		FileLength:  s.fileLen,
		PutBytes:    s.putBytes,
		PutCount:    s.putCount,
	}
}
