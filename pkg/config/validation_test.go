package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_RegionFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegionConfig)
		want   string
	}{
		{"unknown key index", func(rc *RegionConfig) { rc.Disk.KeyIndex = "sqlite" }, "KeyIndex"},
		{"unknown compression", func(rc *RegionConfig) { rc.Disk.Compression = "brotli" }, "Compression"},
		{"unknown disk usage", func(rc *RegionConfig) { rc.DiskUsage = "mirror" }, "DiskUsage"},
		{"max objects below -1", func(rc *RegionConfig) { rc.MaxObjects = ptr(-2) }, "MaxObjects"},
		{"block size too small", func(rc *RegionConfig) { rc.Disk.BlockSize = 4 }, "BlockSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			rc := cfg.Region("r")
			tt.mutate(&rc)
			cfg.Regions = []RegionConfig{rc}

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_RegionNames(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Regions = []RegionConfig{{}}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "name") {
		t.Errorf("Expected missing name error, got: %v", err)
	}

	cfg.Regions = []RegionConfig{{Name: "a"}, {Name: "a"}}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "twice") {
		t.Errorf("Expected duplicate region error, got: %v", err)
	}
}

func TestValidate_LogLevelNotNormalized(t *testing.T) {
	for _, level := range []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}
}
