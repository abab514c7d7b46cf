package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigHCL(t *testing.T) {
	content := `
listen-address = "127.0.0.1:4100"
buffer-size    = 16384
blocklist      = ["http://blocked.test/"]

statistics {
  enabled = true
  backend = "sqlite"
  sqlite-path = "zwischen_stats.db"
}

control {
  enabled        = true
  listen-address = "127.0.0.1:4101"
}
`

	path := createTempConfigFile(t, t.TempDir(), "basic.hcl", content)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4100", cfg.ListenAddress)
	assert.Equal(t, 16384, cfg.BufferSize)
	assert.Equal(t, DefaultBacklog, cfg.Backlog, "unset attributes keep their defaults")
	assert.Equal(t, []string{"http://blocked.test/"}, cfg.Blocklist)
	assert.True(t, cfg.Statistics.Enabled)
	assert.Equal(t, "sqlite", cfg.Statistics.Backend)
	assert.Equal(t, "zwischen_stats.db", cfg.Statistics.SQLitePath)
	assert.True(t, cfg.Control.Enabled)
	assert.Equal(t, "127.0.0.1:4101", cfg.Control.ListenAddress)
}

func TestLoadConfigHCLEnvInterpolation(t *testing.T) {
	t.Setenv("ZWISCHEN_TEST_HCL_ADDR", "127.0.0.1:4200")
	t.Setenv("ZWISCHEN_TEST_HCL_SECRET", "s3cret")

	content := `
listen-address = env.ZWISCHEN_TEST_HCL_ADDR

control {
  enabled        = true
  listen-address = "127.0.0.1:4201"
  auth-secret    = env.ZWISCHEN_TEST_HCL_SECRET
}
`

	path := createTempConfigFile(t, t.TempDir(), "env.hcl", content)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4200", cfg.ListenAddress)
	assert.Equal(t, "s3cret", cfg.Control.AuthSecret)
}

func TestLoadConfigHCLParseError(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "broken.hcl", `listen-address = `)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCL")
}
