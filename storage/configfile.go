package storage

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML config file and overlays it onto
// DefaultConfig(dataDir), so a file only needs to specify the options it
// wants to change from spec §6's defaults.
func LoadConfig(path, dataDir string) (Config, error) {
	cfg := DefaultConfig(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
