// Package config loads the parley configuration from YAML with environment
// variable expansion for credential fields.
package config

// Config is the root configuration.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty"`
	Archive  ArchiveConfig  `yaml:"archive,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// EndpointConfig describes the chat endpoint to connect to.
type EndpointConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token,omitempty"` // supports ${ENV_VAR} references
}

// SessionConfig tunes session behavior.
type SessionConfig struct {
	DisplayName      string `yaml:"displayName,omitempty"`
	PageSize         int    `yaml:"pageSize,omitempty"`
	TypingTTLSeconds int    `yaml:"typingTtlSeconds,omitempty"`
}

// ArchiveConfig controls local transcript persistence.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Session: SessionConfig{
			DisplayName:      "Customer",
			PageSize:         15,
			TypingTTLSeconds: 12,
		},
		Archive: ArchiveConfig{
			Path: "parley.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
	}
}
