package metrics

import "time"

// DiskMetrics instruments the disk overflow tier: purgatory and the
// write-behind queue.
type DiskMetrics interface {
	SetPurgatorySize(region string, n int)
	RecordPurgatoryHit(region string)

	// RecordPurgatoryDropped counts staged writes discarded because a
	// bounded purgatory overflowed before they were flushed.
	RecordPurgatoryDropped(region string)

	SetQueueDepth(region string, n int)

	// ObserveTask records one queue task (put, remove, remove_all) and
	// whether the listener failed.
	ObserveTask(region, task string, duration time.Duration, err error)
}

var newDiskMetrics func() DiskMetrics

func RegisterDiskMetricsConstructor(fn func() DiskMetrics) {
	newDiskMetrics = fn
}

// NewDiskMetrics returns the Prometheus implementation, or nil when metrics
// are disabled.
func NewDiskMetrics() DiskMetrics {
	if !IsEnabled() || newDiskMetrics == nil {
		return nil
	}
	return newDiskMetrics()
}
