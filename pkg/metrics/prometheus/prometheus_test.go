package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocache/pkg/metrics"
)

func withRegistry(t *testing.T) {
	t.Helper()
	metrics.ResetRegistry()
	metrics.InitRegistry()
	t.Cleanup(metrics.ResetRegistry)
}

func TestConstructorsNilWhenDisabled(t *testing.T) {
	metrics.ResetRegistry()
	assert.Nil(t, metrics.NewCacheMetrics())
	assert.Nil(t, metrics.NewDiskMetrics())
	assert.Nil(t, metrics.NewBlockDiskMetrics())
}

func TestCacheMetrics(t *testing.T) {
	withRegistry(t)

	m := metrics.NewCacheMetrics()
	require.NotNil(t, m)

	// A second region shares the same collectors.
	require.Same(t, m, metrics.NewCacheMetrics())

	m.ObserveGet("users", metrics.TierMemory, true, time.Millisecond)
	m.ObserveGet("users", metrics.TierMemory, false, time.Millisecond)
	m.ObserveGet("users", metrics.TierMemory, true, time.Millisecond)
	m.RecordSpill("users", 3)
	m.SetItems("users", metrics.TierMemory, 42)

	cm := m.(*cacheMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(cm.gets.WithLabelValues("users", "memory", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.gets.WithLabelValues("users", "memory", "miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(cm.spills.WithLabelValues("users")))
	assert.Equal(t, 42.0, testutil.ToFloat64(cm.items.WithLabelValues("users", "memory")))
}

func TestDiskMetrics(t *testing.T) {
	withRegistry(t)

	m := metrics.NewDiskMetrics()
	require.NotNil(t, m)

	m.RecordPurgatoryDropped("users")
	m.ObserveTask("users", "put", time.Millisecond, nil)
	m.ObserveTask("users", "put", time.Millisecond, errors.New("disk full"))
	m.SetQueueDepth("users", 5)

	dm := m.(*diskMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(dm.purgatoryDropped.WithLabelValues("users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(dm.tasks.WithLabelValues("users", "put", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(dm.tasks.WithLabelValues("users", "put", "error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(dm.queueDepth.WithLabelValues("users")))
}

func TestBlockDiskMetrics(t *testing.T) {
	withRegistry(t)

	m := metrics.NewBlockDiskMetrics()
	require.NotNil(t, m)

	m.ObserveWrite("users.data", 100, 2, time.Millisecond)
	m.SetBlocks("users.data", 10, 3)
	m.RecordCorruption("users.data")

	bm := m.(*blockDiskMetrics)
	assert.Equal(t, 100.0, testutil.ToFloat64(bm.writeBytes.WithLabelValues("users.data")))
	assert.Equal(t, 3.0, testutil.ToFloat64(bm.blocks.WithLabelValues("users.data", "free")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bm.corruptions.WithLabelValues("users.data")))

	n, err := testutil.GatherAndCount(metrics.GetRegistry(), "dittocache_blockdisk_blocks")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
