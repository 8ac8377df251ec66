package metrics

import "time"

// BlockDiskMetrics instruments a block file. file is the data file's base
// name.
type BlockDiskMetrics interface {
	ObserveWrite(file string, bytes, blocks int, duration time.Duration)
	ObserveRead(file string, bytes int, duration time.Duration)
	SetBlocks(file string, total, free int)
	RecordCorruption(file string)
}

var newBlockDiskMetrics func() BlockDiskMetrics

func RegisterBlockDiskMetricsConstructor(fn func() BlockDiskMetrics) {
	newBlockDiskMetrics = fn
}

// NewBlockDiskMetrics returns the Prometheus implementation, or nil when
// metrics are disabled.
func NewBlockDiskMetrics() BlockDiskMetrics {
	if !IsEnabled() || newBlockDiskMetrics == nil {
		return nil
	}
	return newBlockDiskMetrics()
}
