// Package appconfig is the optional ambient YAML configuration
// (clcache.yaml): logging and metrics settings that are not part of the
// content-addressing contract and are therefore kept out of config.txt.
package appconfig

import (
	"os"

	"gopkg.in/yaml.v2"
)

// AppConfig governs clcache's ambient stack. Every field defaults such
// that clcache behaves identically to having no clcache.yaml present.
type AppConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace","debug","info","warn","error"
	Format string `yaml:"format"` // "text" or "json"
}

// MetricsConfig controls internal/metrics.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // overridden by CLCACHE_METRICS_ADDR if set
}

// Default returns the configuration clcache uses when no clcache.yaml is
// present: info-level text logging, metrics disabled.
func Default() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (typically CLCACHE_CONFIG or "<cacheRoot>/clcache.yaml")
// and merges it over Default(). A missing file is not an error, it simply
// means every default applies.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	return cfg, nil
}

// ResolvePath determines the clcache.yaml location: CLCACHE_CONFIG if set,
// else "<cacheRoot>/clcache.yaml".
func ResolvePath(cacheRoot string) string {
	if explicit := os.Getenv("CLCACHE_CONFIG"); explicit != "" {
		return explicit
	}
	return cacheRoot + string(os.PathSeparator) + "clcache.yaml"
}
