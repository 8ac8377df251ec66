package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use these in every log statement so records can be
// aggregated and queried by the same names.
const (
	// ========================================================================
	// Tracing
	// ========================================================================
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyRequestID = "request_id"

	// ========================================================================
	// Cache
	// ========================================================================
	KeyRegion    = "region"    // region name
	KeyTier      = "tier"      // memory, disk
	KeyKey       = "key"       // element key
	KeyOperation = "operation" // get, put, remove, remove_all, dispose
	KeyPattern   = "pattern"   // key match pattern
	KeySize      = "size"      // number of entries
	KeyCapacity  = "capacity"  // configured max entries
	KeyEvicted   = "evicted"   // entries evicted in one pass
	KeyHit       = "hit"

	// ========================================================================
	// Disk overflow
	// ========================================================================
	KeyPurgatorySize = "purgatory_size"
	KeyQueueID       = "queue_id"
	KeyQueueName     = "queue_name"
	KeyQueueSize     = "queue_size"
	KeyTask          = "task" // put, remove, remove_all, dispose

	// ========================================================================
	// Block store
	// ========================================================================
	KeyPath      = "path"
	KeyBlocks    = "blocks"
	KeyBlockSize = "block_size"
	KeyBytes     = "bytes"
	KeyFreeList  = "free_blocks"

	// ========================================================================
	// Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyBackend    = "backend" // key index backend: memory, badger
)

// Region returns a slog.Attr for a region name
func Region(name string) slog.Attr {
	return slog.String(KeyRegion, name)
}

// Key returns a slog.Attr for an element key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Tier returns a slog.Attr for a cache tier
func Tier(name string) slog.Attr {
	return slog.String(KeyTier, name)
}

func Blocks(n int) slog.Attr {
	return slog.Int(KeyBlocks, n)
}

func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr with the milliseconds elapsed since start.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
