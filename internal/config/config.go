// Package config loads and validates the outlined server's YAML
// configuration file, with CLI flag overrides layered on top.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AdviceRule maps a custom-block keyword to the HTML the renderer should
// wrap it with (spec §4.2's env-advice table).
type AdviceRule struct {
	On       string `yaml:"on"`
	Header   string `yaml:"header_html"`
	CSS      string `yaml:"css_style"`
	TextText string `yaml:"text_style"`
}

// Config is the single structured configuration file described in §6.5.
type Config struct {
	RootDir         string       `yaml:"root_dir"`
	StateDir        string       `yaml:"state_dir"`
	ListenAddr      string       `yaml:"listen_addr"`
	HTMLAdviceRules []AdviceRule `yaml:"html_advice_rules"`
	LatexTimeoutMS  int          `yaml:"latex_timeout_ms"`
	LatexCacheBytes int64        `yaml:"latex_cache_bytes"`
	LatexCacheDir   string       `yaml:"latex_cache_dir"`
	WatcherEnabled  bool         `yaml:"watcher_enabled"`
	LogLevel        string       `yaml:"log_level"`
}

// Default returns a Config with the defaults the reference deployment ships.
func Default() *Config {
	return &Config{
		StateDir:        "./state",
		ListenAddr:      "localhost:7890",
		LatexTimeoutMS:  15000,
		LatexCacheBytes: 64 << 20,
		WatcherEnabled:  true,
		LogLevel:        "info",
	}
}

// Load reads a YAML config file, if path is non-empty, on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("config: root_dir is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("config: state_dir is required")
	}
	if c.LatexTimeoutMS <= 0 {
		return fmt.Errorf("config: latex_timeout_ms must be positive")
	}
	if c.LatexCacheBytes <= 0 {
		return fmt.Errorf("config: latex_cache_bytes must be positive")
	}
	return nil
}
