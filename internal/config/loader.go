package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Load reads the config file and returns a merged Config. A missing file
// yields defaults only. The endpoint token may be stored as ${ENV_VAR}.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Endpoint.Token = expandEnvVars(cfg.Endpoint.Token)
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Session.DisplayName == "" {
		cfg.Session.DisplayName = d.Session.DisplayName
	}
	if cfg.Session.PageSize <= 0 {
		cfg.Session.PageSize = d.Session.PageSize
	}
	if cfg.Session.TypingTTLSeconds <= 0 {
		cfg.Session.TypingTTLSeconds = d.Session.TypingTTLSeconds
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = d.Archive.Path
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = d.Logging.Style
	}
}

// Validate checks whatever a session launch needs up front.
func Validate(cfg Config) error {
	if cfg.Endpoint.URL == "" {
		return fmt.Errorf("endpoint.url is required")
	}
	if !strings.HasPrefix(cfg.Endpoint.URL, "ws://") && !strings.HasPrefix(cfg.Endpoint.URL, "wss://") {
		return fmt.Errorf("endpoint.url must be a ws:// or wss:// URL")
	}
	switch cfg.Logging.Style {
	case "pretty", "json":
	default:
		return fmt.Errorf("logging.style must be pretty or json, got %q", cfg.Logging.Style)
	}
	return nil
}
