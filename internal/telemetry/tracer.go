package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Cache attributes use the "cache." prefix, block store
// attributes "blockdisk.".
const (
	AttrRegion    = "cache.region"
	AttrTier      = "cache.tier"
	AttrKey       = "cache.key"
	AttrHit       = "cache.hit"
	AttrSource    = "cache.source" // memory, purgatory, disk
	AttrPattern   = "cache.pattern"
	AttrMatches   = "cache.matches"
	AttrQueueSize = "cache.queue_size"

	AttrBlocks    = "blockdisk.blocks"
	AttrBytes     = "blockdisk.bytes"
	AttrBlockSize = "blockdisk.block_size"
)

// Span names.
const (
	SpanRegionGet       = "region.get"
	SpanRegionPut       = "region.put"
	SpanRegionRemove    = "region.remove"
	SpanRegionRemoveAll = "region.remove_all"
	SpanRegionMatch     = "region.get_matching"

	SpanDiskGet       = "disk.get"
	SpanDiskUpdate    = "disk.update"
	SpanDiskRemove    = "disk.remove"
	SpanDiskRemoveAll = "disk.remove_all"
	SpanDiskDrain     = "disk.drain"

	SpanBlockWrite = "blockdisk.write"
	SpanBlockRead  = "blockdisk.read"
	SpanBlockFree  = "blockdisk.free"
	SpanBlockReset = "blockdisk.reset"
)

func Region(name string) attribute.KeyValue { return attribute.String(AttrRegion, name) }

func Tier(name string) attribute.KeyValue { return attribute.String(AttrTier, name) }

func Key(k string) attribute.KeyValue { return attribute.String(AttrKey, k) }

func Hit(hit bool) attribute.KeyValue { return attribute.Bool(AttrHit, hit) }

func Source(s string) attribute.KeyValue { return attribute.String(AttrSource, s) }

func Pattern(p string) attribute.KeyValue { return attribute.String(AttrPattern, p) }

func Matches(n int) attribute.KeyValue { return attribute.Int(AttrMatches, n) }

func QueueSize(n int) attribute.KeyValue { return attribute.Int(AttrQueueSize, n) }

func Blocks(n int) attribute.KeyValue { return attribute.Int(AttrBlocks, n) }

func Bytes(n int) attribute.KeyValue { return attribute.Int(AttrBytes, n) }

func BlockSize(n int) attribute.KeyValue { return attribute.Int(AttrBlockSize, n) }

// StartCacheSpan starts a span for a region or tier operation on key.
// An empty key is omitted.
func StartCacheSpan(ctx context.Context, name, region, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, 2+len(attrs))
	all = append(all, Region(region))
	if key != "" {
		all = append(all, Key(key))
	}
	all = append(all, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartBlockSpan starts a span for a block store operation.
func StartBlockSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}
