package stats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/zwischen/zwischen-srv/config"
)

func TestNewCollectorDisabled(t *testing.T) {
	collector, err := NewCollector(config.StatisticsConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, &DummyCollector{}, collector)
}

func TestNewCollectorMemoryBackend(t *testing.T) {
	collector, err := NewCollector(config.StatisticsConfig{
		Enabled: true,
		Backend: config.StatsBackendMemory,
	})
	require.NoError(t, err)
	assert.IsType(t, &DummyCollector{}, collector)
}

func TestNewCollectorSQLiteBackend(t *testing.T) {
	collector, err := NewCollector(config.StatisticsConfig{
		Enabled:    true,
		Backend:    config.StatsBackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "stats.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteCollector{}, collector)
	assert.NoError(t, collector.Close())
}

func TestNewCollectorSQLiteWithoutPath(t *testing.T) {
	_, err := NewCollector(config.StatisticsConfig{
		Enabled: true,
		Backend: config.StatsBackendSQLite,
	})
	assert.Error(t, err)
}

func TestNewCollectorPostgresWithoutDSN(t *testing.T) {
	_, err := NewCollector(config.StatisticsConfig{
		Enabled: true,
		Backend: config.StatsBackendPostgres,
	})
	assert.Error(t, err)
}

func TestNewCollectorUnknownBackend(t *testing.T) {
	_, err := NewCollector(config.StatisticsConfig{
		Enabled: true,
		Backend: "cassandra",
	})
	assert.Error(t, err)
}
