package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittocache/pkg/metrics"
)

// blockDiskMetrics implements metrics.BlockDiskMetrics.
type blockDiskMetrics struct {
	writeBytes    *prometheus.CounterVec
	writeBlocks   *prometheus.HistogramVec
	writeDuration *prometheus.HistogramVec
	readBytes     *prometheus.CounterVec
	readDuration  *prometheus.HistogramVec
	blocks        *prometheus.GaugeVec
	corruptions   *prometheus.CounterVec
}

// NewBlockDiskMetrics returns nil when metrics are disabled.
func NewBlockDiskMetrics() metrics.BlockDiskMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return memoize("blockdisk", func(reg *prometheus.Registry) *blockDiskMetrics {
		f := promauto.With(reg)
		latency := []float64{0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500}
		return &blockDiskMetrics{
			writeBytes: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_blockdisk_write_bytes_total",
					Help: "Payload bytes written to block files",
				},
				[]string{"file"},
			),
			writeBlocks: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dittocache_blockdisk_write_blocks",
					Help:    "Blocks used per record",
					Buckets: []float64{1, 2, 4, 8, 16, 64, 256},
				},
				[]string{"file"},
			),
			writeDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dittocache_blockdisk_write_duration_milliseconds",
					Help:    "Record write latency including sync, in milliseconds",
					Buckets: latency,
				},
				[]string{"file"},
			),
			readBytes: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_blockdisk_read_bytes_total",
					Help: "Payload bytes read from block files",
				},
				[]string{"file"},
			),
			readDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dittocache_blockdisk_read_duration_milliseconds",
					Help:    "Record read latency in milliseconds",
					Buckets: latency,
				},
				[]string{"file"},
			),
			blocks: f.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "dittocache_blockdisk_blocks",
					Help: "Blocks in the file by state",
				},
				[]string{"file", "state"}, // state: total, free
			),
			corruptions: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittocache_blockdisk_corruptions_total",
					Help: "Reads that found a block header pointing past the end of the file",
				},
				[]string{"file"},
			),
		}
	})
}

func (m *blockDiskMetrics) ObserveWrite(file string, bytes, blocks int, d time.Duration) {
	m.writeBytes.WithLabelValues(file).Add(float64(bytes))
	m.writeBlocks.WithLabelValues(file).Observe(float64(blocks))
	m.writeDuration.WithLabelValues(file).Observe(float64(d.Microseconds()) / 1000)
}

func (m *blockDiskMetrics) ObserveRead(file string, bytes int, d time.Duration) {
	m.readBytes.WithLabelValues(file).Add(float64(bytes))
	m.readDuration.WithLabelValues(file).Observe(float64(d.Microseconds()) / 1000)
}

func (m *blockDiskMetrics) SetBlocks(file string, total, free int) {
	m.blocks.WithLabelValues(file, "total").Set(float64(total))
	m.blocks.WithLabelValues(file, "free").Set(float64(free))
}

func (m *blockDiskMetrics) RecordCorruption(file string) {
	m.corruptions.WithLabelValues(file).Inc()
}
