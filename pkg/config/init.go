package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittocache configuration file
#
# Every value below is a default. Environment variables override the file:
#   DITTOCACHE_LOGGING_LEVEL=DEBUG
#
# Regions listed under "regions" inherit unset fields from "defaults".
# Regions requested at runtime without an entry use "defaults" as is.
#
# Example region with a persistent disk tier:
#
# regions:
#   - name: sessions
#     max_objects: 10000
#     element:
#       eternal: false
#       max_life: 30m
#     disk:
#       enabled: true
#       path: /var/lib/dittocache
#       key_index: badger
#       compression: zstd

`

// InitConfig writes a sample configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path. It refuses to
// overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}

	content, err := generateConfigContent()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generateConfigContent() ([]byte, error) {
	body, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default config: %w", err)
	}
	return append([]byte(configHeader), body...), nil
}
