package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the config.yaml layout.
type fileConfig struct {
	JSON             bool   `yaml:"json"`
	Actor            string `yaml:"actor"`
	LockTimeout      string `yaml:"lock-timeout"`
	LockStaleAfter   string `yaml:"lock-stale-after"`
	LogIntegrityMode string `yaml:"log-integrity-mode"`
	Integrity        struct {
		Strict bool   `yaml:"strict"`
		Mode   string `yaml:"mode"`
	} `yaml:"integrity"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Mirror struct {
		Enabled bool `yaml:"enabled"`
		Git     bool `yaml:"git"`
	} `yaml:"mirror"`
}

const defaultHeader = `# wbs configuration. Environment variables with the WBS_ prefix override
# these values (dots and hyphens become underscores, e.g. WBS_INTEGRITY_MODE).
`

// DefaultYAML renders a config.yaml populated with the default values.
func DefaultYAML() ([]byte, error) {
	var fc fileConfig
	fc.LockTimeout = "10s"
	fc.LockStaleAfter = "5m"
	fc.LogIntegrityMode = "plain"
	fc.Integrity.Mode = "fast"
	fc.Server.Addr = "127.0.0.1:7447"

	body, err := yaml.Marshal(&fc)
	if err != nil {
		return nil, fmt.Errorf("rendering default config: %w", err)
	}
	return append([]byte(defaultHeader), body...), nil
}

// WriteDefault writes the default config.yaml to path unless it exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	body, err := DefaultYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}
