package metrics

import "time"

// Tier label values.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// CacheMetrics instruments regions and the memory tier.
type CacheMetrics interface {
	// ObserveGet records a lookup on tier and whether it hit.
	ObserveGet(region, tier string, hit bool, duration time.Duration)

	RecordPut(region, tier string)
	RecordRemove(region, tier string)

	// RecordSpill counts elements handed from memory to the disk tier.
	RecordSpill(region string, count int)

	// RecordExpired counts elements dropped because they outlived their
	// max life or idle time.
	RecordExpired(region string)

	SetItems(region, tier string, n int)
}

var newCacheMetrics func() CacheMetrics

// RegisterCacheMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterCacheMetricsConstructor(fn func() CacheMetrics) {
	newCacheMetrics = fn
}

// NewCacheMetrics returns the Prometheus implementation, or nil when
// metrics are disabled.
//
//	metrics.InitRegistry()
//	m := metrics.NewCacheMetrics() // non-nil
func NewCacheMetrics() CacheMetrics {
	if !IsEnabled() || newCacheMetrics == nil {
		return nil
	}
	return newCacheMetrics()
}

// ObserveGet is a nil-safe wrapper around CacheMetrics.ObserveGet.
func ObserveGet(m CacheMetrics, region, tier string, hit bool, start time.Time) {
	if m != nil {
		m.ObserveGet(region, tier, hit, time.Since(start))
	}
}

func RecordPut(m CacheMetrics, region, tier string) {
	if m != nil {
		m.RecordPut(region, tier)
	}
}

func RecordRemove(m CacheMetrics, region, tier string) {
	if m != nil {
		m.RecordRemove(region, tier)
	}
}

func RecordSpill(m CacheMetrics, region string, count int) {
	if m != nil && count > 0 {
		m.RecordSpill(region, count)
	}
}

func RecordExpired(m CacheMetrics, region string) {
	if m != nil {
		m.RecordExpired(region)
	}
}

func SetItems(m CacheMetrics, region, tier string, n int) {
	if m != nil {
		m.SetItems(region, tier, n)
	}
}
