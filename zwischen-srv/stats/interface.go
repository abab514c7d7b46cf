package stats

import (
	"context"
	"time"
)

// Collector defines the interface for collecting proxy statistics.
// Implementations must be safe for concurrent use by many connection
// handlers.
type Collector interface {
	// StartConnection records a new client connection and returns its ID.
	StartConnection(ctx context.Context, clientAddr string) (int64, error)

	// EndConnection records the end of a connection with transfer totals.
	EndConnection(ctx context.Context, connID int64, bytesIn, bytesOut int64, duration time.Duration) error

	// RecordHTTPRequest records a forwarded HTTP request.
	RecordHTTPRequest(ctx context.Context, connID int64, method, target, host string, statusCode string, responseSize int64, latency time.Duration) error

	// RecordCacheHit records a revalidation that served cached bytes,
	// with the observed time saved (may be negative).
	RecordCacheHit(ctx context.Context, connID int64, target string, timeSaved time.Duration) error

	// RecordCacheStore records a response being written to the cache.
	RecordCacheStore(ctx context.Context, connID int64, target string, size int64) error

	// RecordBlockedRequest records a request refused by the block list.
	RecordBlockedRequest(ctx context.Context, connID int64, target string) error

	// RecordTunnel records a completed CONNECT tunnel session.
	RecordTunnel(ctx context.Context, connID int64, host string, bytesIn, bytesOut int64, duration time.Duration) error

	// RecordError records an error event with its code.
	RecordError(ctx context.Context, connID int64, errorCode, message string) error

	// GetOverviewStats returns aggregate statistics for the control API.
	GetOverviewStats(ctx context.Context) (*OverviewStats, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// OverviewStats holds aggregate counters for the control API.
type OverviewStats struct {
	TotalConnections   int64         `json:"total_connections"`
	ActiveConnections  int64         `json:"active_connections"`
	TotalRequests      int64         `json:"total_requests"`
	BlockedRequests    int64         `json:"blocked_requests"`
	CacheHits          int64         `json:"cache_hits"`
	CacheStores        int64         `json:"cache_stores"`
	TunnelSessions     int64         `json:"tunnel_sessions"`
	Errors             int64         `json:"errors"`
	TotalBytesIn       int64         `json:"total_bytes_in"`
	TotalBytesOut      int64         `json:"total_bytes_out"`
	TotalTimeSaved     time.Duration `json:"total_time_saved"`
	AverageFetchTimeMs float64       `json:"average_fetch_time_ms"`
}
