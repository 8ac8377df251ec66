package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/marmos91/dittocache/internal/logger"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	InstallProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		setTracer(noop.NewTracerProvider().Tracer(instrumentationName), false)
	})
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dittocache", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestSampleRatioClamped(t *testing.T) {
	assert.Equal(t, 0.0, Config{SampleRate: -1}.sampleRatio())
	assert.Equal(t, 1.0, Config{SampleRate: 7}.sampleRatio())
	assert.Equal(t, 0.25, Config{SampleRate: 0.25}.sampleRatio())
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())

	ctx, span := StartSpan(ctx, "noop")
	defer span.End()
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestStartCacheSpan(t *testing.T) {
	rec := recordSpans(t)
	assert.True(t, IsEnabled())

	_, span := StartCacheSpan(context.Background(), SpanRegionGet, "users", "k1", Hit(true))
	span.End()
	_, span = StartCacheSpan(context.Background(), SpanRegionRemoveAll, "users", "")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, SpanRegionGet, ended[0].Name())

	attrs := map[string]any{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "users", attrs[AttrRegion])
	assert.Equal(t, "k1", attrs[AttrKey])
	assert.Equal(t, true, attrs[AttrHit])

	for _, kv := range ended[1].Attributes() {
		assert.NotEqual(t, AttrKey, string(kv.Key))
	}
}

func TestRecordError(t *testing.T) {
	rec := recordSpans(t)

	ctx, span := StartBlockSpan(context.Background(), SpanBlockRead, Blocks(2))
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("corrupt"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "corrupt", ended[0].Status().Description)
}

func TestWithLogContext(t *testing.T) {
	_ = recordSpans(t)

	ctx := logger.WithRegion(context.Background(), "users")
	assert.Same(t, logger.FromContext(ctx), logger.FromContext(WithLogContext(ctx)))

	ctx, span := StartSpan(ctx, "op")
	defer span.End()

	ctx = WithLogContext(ctx)
	lc := logger.FromContext(ctx)
	require.NotNil(t, lc)
	assert.Equal(t, TraceID(ctx), lc.TraceID)
	assert.Equal(t, SpanID(ctx), lc.SpanID)
	assert.Equal(t, "users", lc.Region)
}

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes(DefaultProfilingConfig().ProfileTypes)
	require.NoError(t, err)
	assert.Len(t, types, 5)

	_, err = ParseProfileTypes([]string{"cpu", "bogus"})
	assert.Error(t, err)
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(DefaultProfilingConfig())
	require.NoError(t, err)
	assert.NoError(t, stop())
}
