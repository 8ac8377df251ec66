package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittocache/internal/bytesize"
	"github.com/marmos91/dittocache/pkg/blockdisk"
	"github.com/marmos91/dittocache/pkg/disk/block"
	"github.com/marmos91/dittocache/pkg/region"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Entries in Regions inherit unset fields from Defaults
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyRegionDefaults(&cfg.Defaults)

	for i := range cfg.Regions {
		inheritRegion(&cfg.Regions[i], cfg.Defaults)
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_space",
			"inuse_space",
			"goroutines",
			"mutex_duration",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyRegionDefaults fills the region defaults themselves.
func applyRegionDefaults(rc *RegionConfig) {
	def := region.DefaultConfig("")

	if rc.MaxObjects == nil {
		rc.MaxObjects = ptr(def.MaxObjects)
	}
	if rc.ChunkSize == 0 {
		rc.ChunkSize = def.ChunkSize
	}
	if rc.DiskUsage == "" {
		rc.DiskUsage = def.DiskUsage
	}
	if rc.Element.Eternal == nil {
		rc.Element.Eternal = ptr(true)
	}
	if rc.Element.Spool == nil {
		rc.Element.Spool = ptr(true)
	}

	d := &rc.Disk
	if d.Enabled == nil {
		d.Enabled = ptr(false)
	}
	if d.Path == "" {
		d.Path = "/tmp/dittocache"
	}
	if d.BlockSize == 0 {
		d.BlockSize = bytesize.ByteSize(blockdisk.DefaultBlockSize)
	}
	if d.KeyIndex == "" {
		d.KeyIndex = block.IndexMemory
	}
	if d.Compression == "" {
		d.Compression = "none"
	}
	if d.SyncWrites == nil {
		d.SyncWrites = ptr(false)
	}
	if d.MaxPurgatorySize == 0 {
		d.MaxPurgatorySize = -1
	}
	if d.ShutdownSpoolTimeLimit == 0 {
		d.ShutdownSpoolTimeLimit = 60 * time.Second
	}
	if d.AllowRemoveAll == nil {
		d.AllowRemoveAll = ptr(true)
	}
}

// inheritRegion copies every unset field of rc from def.
func inheritRegion(rc *RegionConfig, def RegionConfig) {
	if rc.MaxObjects == nil {
		rc.MaxObjects = def.MaxObjects
	}
	if rc.ChunkSize == 0 {
		rc.ChunkSize = def.ChunkSize
	}
	if rc.DiskUsage == "" {
		rc.DiskUsage = def.DiskUsage
	}

	e := &rc.Element
	if e.Eternal == nil {
		e.Eternal = def.Element.Eternal
	}
	if e.MaxLife == 0 {
		e.MaxLife = def.Element.MaxLife
	}
	if e.MaxIdle == 0 {
		e.MaxIdle = def.Element.MaxIdle
	}
	if e.Spool == nil {
		e.Spool = def.Element.Spool
	}

	d, dd := &rc.Disk, def.Disk
	if d.Enabled == nil {
		d.Enabled = dd.Enabled
	}
	if d.Path == "" {
		d.Path = dd.Path
	}
	if d.BlockSize == 0 {
		d.BlockSize = dd.BlockSize
	}
	if d.KeyIndex == "" {
		d.KeyIndex = dd.KeyIndex
	}
	if d.MaxKeys == 0 {
		d.MaxKeys = dd.MaxKeys
	}
	if d.Compression == "" {
		d.Compression = dd.Compression
	}
	if d.SyncWrites == nil {
		d.SyncWrites = dd.SyncWrites
	}
	if d.MaxPurgatorySize == 0 {
		d.MaxPurgatorySize = dd.MaxPurgatorySize
	}
	if d.ShutdownSpoolTimeLimit == 0 {
		d.ShutdownSpoolTimeLimit = dd.ShutdownSpoolTimeLimit
	}
	if d.AllowRemoveAll == nil {
		d.AllowRemoveAll = dd.AllowRemoveAll
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
