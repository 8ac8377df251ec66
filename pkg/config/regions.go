package config

import (
	"path/filepath"
	"time"

	"github.com/marmos91/dittocache/internal/bytesize"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/disk"
	"github.com/marmos91/dittocache/pkg/disk/block"
	"github.com/marmos91/dittocache/pkg/region"
)

// RegionConfig configures one region. Pointer fields distinguish "unset"
// from an explicit zero so regions can inherit from Config.Defaults.
type RegionConfig struct {
	// Name is required for entries in Config.Regions and ignored in
	// Config.Defaults.
	Name string `mapstructure:"name" yaml:"name,omitempty"`

	// MaxObjects bounds the memory tier. 0 spools every element to disk
	// immediately; -1 is unbounded.
	// Default: 1000
	MaxObjects *int `mapstructure:"max_objects" validate:"omitempty,gte=-1" yaml:"max_objects,omitempty"`

	// ChunkSize is how many elements are spooled at once when memory is full.
	// Default: 1
	ChunkSize int `mapstructure:"chunk_size" validate:"omitempty,gte=1" yaml:"chunk_size,omitempty"`

	// DiskUsage is "swap" (write to disk on eviction) or "update" (write
	// every update to disk as well).
	// Default: swap
	DiskUsage string `mapstructure:"disk_usage" validate:"omitempty,oneof=swap update" yaml:"disk_usage,omitempty"`

	// Element holds the attributes applied to elements stored with Put.
	Element ElementConfig `mapstructure:"element" yaml:"element"`

	// Disk configures the disk overflow tier.
	Disk DiskConfig `mapstructure:"disk" yaml:"disk"`
}

// ElementConfig holds default element attributes.
type ElementConfig struct {
	// Eternal elements never expire.
	// Default: true
	Eternal *bool `mapstructure:"eternal" yaml:"eternal,omitempty"`

	// MaxLife bounds the age of non-eternal elements. 0 means no limit.
	MaxLife time.Duration `mapstructure:"max_life" yaml:"max_life,omitempty"`

	// MaxIdle bounds the time since last access of non-eternal elements.
	MaxIdle time.Duration `mapstructure:"max_idle" yaml:"max_idle,omitempty"`

	// Spool allows elements to be written to disk.
	// Default: true
	Spool *bool `mapstructure:"spool" yaml:"spool,omitempty"`
}

// DiskConfig configures a region's disk overflow tier.
type DiskConfig struct {
	// Enabled attaches a disk tier to the region.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled,omitempty"`

	// Path is the directory holding <region>.data and <region>.keys.
	// Default: /tmp/dittocache
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// BlockSize is the block file's block size. Supports "4Ki", "512", ...
	// Default: 4Ki
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"omitempty,gte=5" yaml:"block_size,omitempty"`

	// KeyIndex is "memory" (lost on restart) or "badger" (persistent).
	// Default: memory
	KeyIndex string `mapstructure:"key_index" validate:"omitempty,oneof=memory badger" yaml:"key_index,omitempty"`

	// MaxKeys bounds the memory key index. 0 is unbounded.
	MaxKeys int `mapstructure:"max_keys" validate:"omitempty,gte=0" yaml:"max_keys,omitempty"`

	// Compression is none, lz4, zstd or s2.
	// Default: none
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none lz4 zstd s2" yaml:"compression,omitempty"`

	// SyncWrites forces every record to stable storage.
	SyncWrites *bool `mapstructure:"sync_writes" yaml:"sync_writes,omitempty"`

	// MaxPurgatorySize bounds writes staged for disk. 0 or -1 is unbounded.
	MaxPurgatorySize int `mapstructure:"max_purgatory_size" validate:"omitempty,gte=-1" yaml:"max_purgatory_size,omitempty"`

	// ShutdownSpoolTimeLimit bounds how long shutdown waits for staged
	// writes.
	// Default: 60s
	ShutdownSpoolTimeLimit time.Duration `mapstructure:"shutdown_spool_time_limit" yaml:"shutdown_spool_time_limit,omitempty"`

	// AllowRemoveAll enables clearing the disk tier.
	// Default: true
	AllowRemoveAll *bool `mapstructure:"allow_remove_all" yaml:"allow_remove_all,omitempty"`
}

// Region returns the configuration for name: its entry in Regions if there
// is one, otherwise Defaults. The result has every default applied.
func (c *Config) Region(name string) RegionConfig {
	for _, rc := range c.Regions {
		if rc.Name == name {
			return rc
		}
	}
	rc := c.Defaults
	rc.Name = name
	return rc
}

// RegionOptions converts the configuration to region.Config.
func (rc RegionConfig) RegionOptions() region.Config {
	cfg := region.DefaultConfig(rc.Name)
	if rc.MaxObjects != nil {
		cfg.MaxObjects = *rc.MaxObjects
	}
	if rc.ChunkSize > 0 {
		cfg.ChunkSize = rc.ChunkSize
	}
	if rc.DiskUsage != "" {
		cfg.DiskUsage = rc.DiskUsage
	}
	cfg.Attributes = cache.Attributes{
		IsEternal: boolOr(rc.Element.Eternal, true),
		IsSpool:   boolOr(rc.Element.Spool, true),
		MaxLife:   rc.Element.MaxLife,
		MaxIdle:   rc.Element.MaxIdle,
	}
	return cfg
}

// DiskEnabled reports whether the region has a disk tier.
func (rc RegionConfig) DiskEnabled() bool {
	return boolOr(rc.Disk.Enabled, false)
}

// DiskOptions converts the configuration to disk.Config.
func (rc RegionConfig) DiskOptions() disk.Config {
	cfg := disk.DefaultConfig(rc.Name)
	if rc.Disk.MaxPurgatorySize > 0 {
		cfg.MaxPurgatorySize = rc.Disk.MaxPurgatorySize
	}
	if rc.Disk.ShutdownSpoolTimeLimit > 0 {
		cfg.ShutdownSpoolTimeLimit = rc.Disk.ShutdownSpoolTimeLimit
	}
	cfg.AllowRemoveAll = boolOr(rc.Disk.AllowRemoveAll, true)
	return cfg
}

// BlockOptions converts the configuration to block.Config.
func (rc RegionConfig) BlockOptions() block.Config {
	return block.Config{
		Name:        rc.Name,
		Dir:         filepath.Clean(rc.Disk.Path),
		BlockSize:   rc.Disk.BlockSize.Int(),
		KeyIndex:    rc.Disk.KeyIndex,
		MaxKeys:     rc.Disk.MaxKeys,
		Compression: rc.Disk.Compression,
		SyncWrites:  boolOr(rc.Disk.SyncWrites, false),
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func ptr[T any](v T) *T { return &v }
