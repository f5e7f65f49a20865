package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Session.PageSize)
	assert.Equal(t, 12, cfg.Session.TypingTTLSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  url: wss://chat.example.com/session
session:
  displayName: Dana
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com/session", cfg.Endpoint.URL)
	assert.Equal(t, "Dana", cfg.Session.DisplayName)
	assert.Equal(t, 15, cfg.Session.PageSize, "unset field falls back to default")
}

func TestLoad_ExpandsTokenEnvVar(t *testing.T) {
	t.Setenv("PARLEY_TEST_TOKEN", "s3cret")
	path := writeConfig(t, `
endpoint:
  url: wss://chat.example.com/session
  token: ${PARLEY_TEST_TOKEN}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Endpoint.Token)
}

func TestLoad_UnsetEnvVarLeftVerbatim(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  url: wss://chat.example.com/session
  token: ${PARLEY_DEFINITELY_UNSET}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${PARLEY_DEFINITELY_UNSET}", cfg.Endpoint.Token)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "endpoint: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	assert.Error(t, Validate(cfg), "missing endpoint URL")

	cfg.Endpoint.URL = "https://not-a-socket"
	assert.Error(t, Validate(cfg))

	cfg.Endpoint.URL = "wss://chat.example.com/session"
	assert.NoError(t, Validate(cfg))

	cfg.Logging.Style = "fancy"
	assert.Error(t, Validate(cfg))
}
