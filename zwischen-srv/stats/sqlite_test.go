package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteCollector(t *testing.T) *SQLiteCollector {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.db")
	collector, err := NewSQLiteCollector(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, collector.Close())
	})
	return collector
}

func TestSQLiteCollectorConnectionLifecycle(t *testing.T) {
	collector := newTestSQLiteCollector(t)
	ctx := context.Background()

	connID, err := collector.StartConnection(ctx, "127.0.0.1:50001")
	require.NoError(t, err)
	assert.Positive(t, connID)

	overview, err := collector.GetOverviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), overview.TotalConnections)
	assert.Equal(t, int64(1), overview.ActiveConnections)

	require.NoError(t, collector.EndConnection(ctx, connID, 512, 1024, 2*time.Second))

	overview, err = collector.GetOverviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), overview.ActiveConnections)
	assert.Equal(t, int64(512), overview.TotalBytesIn)
	assert.Equal(t, int64(1024), overview.TotalBytesOut)
}

func TestSQLiteCollectorRecordsEvents(t *testing.T) {
	collector := newTestSQLiteCollector(t)
	ctx := context.Background()

	connID, err := collector.StartConnection(ctx, "127.0.0.1:50002")
	require.NoError(t, err)

	require.NoError(t, collector.RecordHTTPRequest(ctx, connID, "GET", "/index.html", "example.com", "200", 2048, 30*time.Millisecond))
	require.NoError(t, collector.RecordCacheStore(ctx, connID, "/index.html", 2048))
	require.NoError(t, collector.RecordCacheHit(ctx, connID, "/index.html", 25*time.Millisecond))
	require.NoError(t, collector.RecordBlockedRequest(ctx, connID, "/ads.js"))
	require.NoError(t, collector.RecordTunnel(ctx, connID, "secure.test", 100, 200, time.Second))
	require.NoError(t, collector.RecordError(ctx, connID, "E2001", "dial failed"))

	overview, err := collector.GetOverviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), overview.TotalRequests)
	assert.Equal(t, int64(1), overview.CacheStores)
	assert.Equal(t, int64(1), overview.CacheHits)
	assert.Equal(t, int64(1), overview.BlockedRequests)
	assert.Equal(t, int64(1), overview.TunnelSessions)
	assert.Equal(t, int64(1), overview.Errors)
	assert.Equal(t, 25*time.Millisecond, overview.TotalTimeSaved)
	assert.InDelta(t, 30.0, overview.AverageFetchTimeMs, 0.01)
}

func TestSQLiteCollectorHealthCheck(t *testing.T) {
	collector := newTestSQLiteCollector(t)
	assert.NoError(t, collector.HealthCheck(context.Background()))
}
