package stats

import (
	"context"
	"sync/atomic"
	"time"
)

// DummyCollector counts in memory and persists nothing. It is the
// default when statistics are disabled or no backend is configured, so
// the control API still has live numbers to show.
type DummyCollector struct {
	nextConnID        atomic.Int64
	totalConnections  atomic.Int64
	activeConnections atomic.Int64
	totalRequests     atomic.Int64
	blockedRequests   atomic.Int64
	cacheHits         atomic.Int64
	cacheStores       atomic.Int64
	tunnelSessions    atomic.Int64
	errors            atomic.Int64
	totalBytesIn      atomic.Int64
	totalBytesOut     atomic.Int64
	totalTimeSaved    atomic.Int64
	totalFetchNanos   atomic.Int64
}

// NewDummyCollector creates a new in-memory collector.
func NewDummyCollector() *DummyCollector {
	return &DummyCollector{}
}

func (d *DummyCollector) StartConnection(_ context.Context, _ string) (int64, error) {
	d.totalConnections.Add(1)
	d.activeConnections.Add(1)
	return d.nextConnID.Add(1), nil
}

func (d *DummyCollector) EndConnection(_ context.Context, _ int64, bytesIn, bytesOut int64, _ time.Duration) error {
	d.activeConnections.Add(-1)
	d.totalBytesIn.Add(bytesIn)
	d.totalBytesOut.Add(bytesOut)
	return nil
}

func (d *DummyCollector) RecordHTTPRequest(_ context.Context, _ int64, _, _, _ string, _ string, responseSize int64, latency time.Duration) error {
	d.totalRequests.Add(1)
	d.totalBytesIn.Add(responseSize)
	d.totalFetchNanos.Add(int64(latency))
	return nil
}

func (d *DummyCollector) RecordCacheHit(_ context.Context, _ int64, _ string, timeSaved time.Duration) error {
	d.cacheHits.Add(1)
	d.totalTimeSaved.Add(int64(timeSaved))
	return nil
}

func (d *DummyCollector) RecordCacheStore(_ context.Context, _ int64, _ string, _ int64) error {
	d.cacheStores.Add(1)
	return nil
}

func (d *DummyCollector) RecordBlockedRequest(_ context.Context, _ int64, _ string) error {
	d.blockedRequests.Add(1)
	return nil
}

func (d *DummyCollector) RecordTunnel(_ context.Context, _ int64, _ string, bytesIn, bytesOut int64, _ time.Duration) error {
	d.tunnelSessions.Add(1)
	d.totalBytesIn.Add(bytesIn)
	d.totalBytesOut.Add(bytesOut)
	return nil
}

func (d *DummyCollector) RecordError(_ context.Context, _ int64, _, _ string) error {
	d.errors.Add(1)
	return nil
}

func (d *DummyCollector) GetOverviewStats(_ context.Context) (*OverviewStats, error) {
	stats := &OverviewStats{
		TotalConnections:  d.totalConnections.Load(),
		ActiveConnections: d.activeConnections.Load(),
		TotalRequests:     d.totalRequests.Load(),
		BlockedRequests:   d.blockedRequests.Load(),
		CacheHits:         d.cacheHits.Load(),
		CacheStores:       d.cacheStores.Load(),
		TunnelSessions:    d.tunnelSessions.Load(),
		Errors:            d.errors.Load(),
		TotalBytesIn:      d.totalBytesIn.Load(),
		TotalBytesOut:     d.totalBytesOut.Load(),
		TotalTimeSaved:    time.Duration(d.totalTimeSaved.Load()),
	}
	if stats.TotalRequests > 0 {
		stats.AverageFetchTimeMs = float64(d.totalFetchNanos.Load()) / float64(stats.TotalRequests) / 1e6
	}
	return stats, nil
}

func (d *DummyCollector) HealthCheck(_ context.Context) error {
	return nil
}

func (d *DummyCollector) Close() error {
	return nil
}
