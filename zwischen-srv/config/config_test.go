package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "Failed to write temp config file")
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, DefaultBacklog, cfg.Backlog)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, DefaultHTTPSPort, cfg.HTTPSPort)
	assert.Equal(t, 0, cfg.MaxConcurrentConnections)
	assert.Empty(t, cfg.Blocklist)
	assert.False(t, cfg.Statistics.Enabled)
	assert.False(t, cfg.Control.Enabled)
}

func TestLoadConfigJSON(t *testing.T) {
	content := `{
		"listen-address": "127.0.0.1:9000",
		"backlog": 32,
		"buffer-size": 4096,
		"max-concurrent-connections": 64,
		"blocklist": ["http://blocked.test/", "http://ads.test/banner"],
		"statistics": {
			"enabled": true,
			"backend": "sqlite",
			"sqlite-path": "stats.db"
		},
		"control": {
			"enabled": true,
			"listen-address": "127.0.0.1:9001",
			"auth-secret": "hunter2"
		}
	}`

	path := createTempConfigFile(t, t.TempDir(), "config.json", content)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	assert.Equal(t, 32, cfg.Backlog)
	assert.Equal(t, 4096, cfg.BufferSize)
	assert.Equal(t, 64, cfg.MaxConcurrentConnections)
	assert.Equal(t, []string{"http://blocked.test/", "http://ads.test/banner"}, cfg.Blocklist)
	assert.True(t, cfg.Statistics.Enabled)
	assert.Equal(t, "sqlite", cfg.Statistics.Backend)
	assert.Equal(t, "stats.db", cfg.Statistics.SQLitePath)
	assert.True(t, cfg.Control.Enabled)
	assert.Equal(t, "127.0.0.1:9001", cfg.Control.ListenAddress)
	assert.Equal(t, "hunter2", cfg.Control.AuthSecret)
}

func TestLoadConfigJSONSecret(t *testing.T) {
	t.Setenv("ZWISCHEN_TEST_DSN_SECRET", "postgres://stats:pw@localhost/zwischen")

	content := `{
		"statistics": {
			"enabled": true,
			"backend": "postgres",
			"postgres-dsn": {"_secret": "ZWISCHEN_TEST_DSN_SECRET"}
		}
	}`

	path := createTempConfigFile(t, t.TempDir(), "secret.json", content)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://stats:pw@localhost/zwischen", cfg.Statistics.PostgresDSN)
}

func TestLoadConfigJSONSecretMissing(t *testing.T) {
	content := `{
		"statistics": {
			"postgres-dsn": {"_secret": "ZWISCHEN_TEST_DOES_NOT_EXIST"}
		}
	}`

	path := createTempConfigFile(t, t.TempDir(), "secret.json", content)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
}

func TestLoadConfigUnsupportedFormat(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "config.yaml", "listen-address: 127.0.0.1:9000")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file format")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ZWISCHEN_LISTENADDRESS", "0.0.0.0:4040")
	t.Setenv("ZWISCHEN_MAXCONCURRENTCONNECTIONS", "128")
	t.Setenv("ZWISCHEN_BLOCKLIST", "http://a.test/, http://b.test/")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4040", cfg.ListenAddress)
	assert.Equal(t, 128, cfg.MaxConcurrentConnections)
	assert.Equal(t, []string{"http://a.test/", "http://b.test/"}, cfg.Blocklist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty listen address", func(c *Config) { c.ListenAddress = "" }, "listen-address"},
		{"zero buffer size", func(c *Config) { c.BufferSize = 0 }, "buffer-size"},
		{"bad http port", func(c *Config) { c.HTTPPort = 70000 }, "http-port"},
		{"bad https port", func(c *Config) { c.HTTPSPort = -1 }, "https-port"},
		{"negative conn cap", func(c *Config) { c.MaxConcurrentConnections = -5 }, "max-concurrent-connections"},
		{"control without address", func(c *Config) { c.Control.Enabled = true }, "control.listen-address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHasChanged(t *testing.T) {
	a, err := LoadConfig("")
	require.NoError(t, err)
	b, err := LoadConfig("")
	require.NoError(t, err)

	assert.False(t, HasChanged(a, b))

	b.Blocklist = append(b.Blocklist, "http://new.test/")
	assert.True(t, HasChanged(a, b))
}
