// Package prometheus provides the Prometheus implementations of the metric
// interfaces in pkg/metrics. Import it for side effects:
//
//	import _ "github.com/marmos91/dittocache/pkg/metrics/prometheus"
package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittocache/pkg/metrics"
)

func init() {
	metrics.RegisterCacheMetricsConstructor(NewCacheMetrics)
	metrics.RegisterDiskMetricsConstructor(NewDiskMetrics)
	metrics.RegisterBlockDiskMetricsConstructor(NewBlockDiskMetrics)
}

// Collectors can be registered once per registry, but every region asks for
// its own metrics value, so instances are memoized per registry.
var (
	instancesMu sync.Mutex
	instances   = map[*prometheus.Registry]map[string]any{}
)

func memoize[T any](kind string, build func(reg *prometheus.Registry) T) T {
	reg := metrics.GetRegistry()

	instancesMu.Lock()
	defer instancesMu.Unlock()

	byKind, ok := instances[reg]
	if !ok {
		byKind = map[string]any{}
		instances[reg] = byKind
	}
	if v, ok := byKind[kind]; ok {
		return v.(T)
	}
	v := build(reg)
	byKind[kind] = v
	return v
}

// cacheMetrics implements metrics.CacheMetrics.
type cacheMetrics struct {
	gets        *prometheus.CounterVec
	getDuration *prometheus.HistogramVec
	puts        *prometheus.CounterVec
	removes     *prometheus.CounterVec
	spills      *prometheus.CounterVec
	expired     *prometheus.CounterVec
	items       *prometheus.GaugeVec
}

// NewCacheMetrics returns nil when metrics are disabled.
func NewCacheMetrics() metrics.CacheMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return memoize("cache", func(reg *prometheus.Registry) *cacheMetrics {
		f := promauto.With(reg)
		return &cacheMetrics{
			gets: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_get_total",
					Help: "Lookups by region, tier and result",
				},
				[]string{"region", "tier", "result"}, // result: hit, miss
			),
			getDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "dittocache_get_duration_milliseconds",
					Help: "Lookup latency in milliseconds",
					Buckets: []float64{
						0.01, // 10us - memory hit
						0.05,
						0.1,
						0.5,
						1, // 1ms - purgatory / page cache
						5,
						10,
						50, // 50ms - cold disk read
						100,
					},
				},
				[]string{"region", "tier"},
			),
			puts: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_put_total",
					Help: "Elements stored by region and tier",
				},
				[]string{"region", "tier"},
			),
			removes: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_remove_total",
					Help: "Elements removed by region and tier",
				},
				[]string{"region", "tier"},
			),
			spills: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_spill_total",
					Help: "Elements evicted from memory and handed to the disk tier",
				},
				[]string{"region"},
			),
			expired: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_expired_total",
					Help: "Elements dropped on access because they expired",
				},
				[]string{"region"},
			),
			items: f.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "dittocache_items",
					Help: "Elements currently held by region and tier",
				},
				[]string{"region", "tier"},
			),
		}
	})
}

func (m *cacheMetrics) ObserveGet(region, tier string, hit bool, d time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.gets.WithLabelValues(region, tier, result).Inc()
	m.getDuration.WithLabelValues(region, tier).Observe(float64(d.Microseconds()) / 1000)
}

func (m *cacheMetrics) RecordPut(region, tier string) {
	m.puts.WithLabelValues(region, tier).Inc()
}

func (m *cacheMetrics) RecordRemove(region, tier string) {
	m.removes.WithLabelValues(region, tier).Inc()
}

func (m *cacheMetrics) RecordSpill(region string, count int) {
	m.spills.WithLabelValues(region).Add(float64(count))
}

func (m *cacheMetrics) RecordExpired(region string) {
	m.expired.WithLabelValues(region).Inc()
}

func (m *cacheMetrics) SetItems(region, tier string, n int) {
	m.items.WithLabelValues(region, tier).Set(float64(n))
}
