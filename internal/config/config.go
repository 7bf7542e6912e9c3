// Package config wraps the viper configuration singleton for the wbs CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/governedworks/wbs/internal/debug"
	"github.com/governedworks/wbs/internal/kernel"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml so we never pick up an unrelated file.
	// Precedence: project .wbs/config.yaml > ~/.config/wbs/config.yaml.
	configFileSet := false

	// 1. Walk up from CWD to find the project's .wbs/config.yaml. This lets
	//    commands work from subdirectories.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, kernel.ProjectDirName, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/wbs/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "wbs", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g. WBS_JSON, WBS_ACTOR, WBS_LOCK_TIMEOUT, WBS_INTEGRITY_STRICT.
	v.SetEnvPrefix("WBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	v.SetDefault("lock-timeout", "10s")
	v.SetDefault("lock-stale-after", "5m")
	v.SetDefault("log-integrity-mode", "plain")

	v.SetDefault("integrity.strict", false)
	v.SetDefault("integrity.mode", "fast")

	v.SetDefault("server.addr", "127.0.0.1:7447")

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.git", false)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("loaded config from %s", v.ConfigFileUsed())
	} else {
		debug.Logf("no config.yaml found; using defaults and environment variables")
	}
	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value, used by flag precedence handling.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}

// GetActor resolves the acting agent identity.
// Priority chain:
//  1. flagValue (from --agent)
//  2. WBS_ACTOR env var / config.yaml actor field (via viper)
//  3. hostname
func GetActor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if actor := GetString("actor"); actor != "" {
		return actor
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown"
}

// FindProjectRoot walks up from dir looking for a directory that contains
// the definition file or the project directory. Empty string when none.
func FindProjectRoot(dir string) string {
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(filepath.Join(d, kernel.DefinitionFileName)); err == nil {
			return d
		}
		if _, err := os.Stat(filepath.Join(d, kernel.ProjectDirName)); err == nil {
			return d
		}
		if d == filepath.Dir(d) {
			return ""
		}
	}
}
