package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// PostgresCollector persists statistics to a PostgreSQL database.
type PostgresCollector struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id BIGSERIAL PRIMARY KEY,
	client_addr TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	bytes_in BIGINT NOT NULL DEFAULT 0,
	bytes_out BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS requests (
	id BIGSERIAL PRIMARY KEY,
	connection_id BIGINT NOT NULL,
	method TEXT NOT NULL,
	target TEXT NOT NULL,
	host TEXT NOT NULL,
	status_code TEXT NOT NULL,
	response_size BIGINT NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_events (
	id BIGSERIAL PRIMARY KEY,
	connection_id BIGINT NOT NULL,
	target TEXT NOT NULL,
	kind TEXT NOT NULL,
	size BIGINT NOT NULL DEFAULT 0,
	time_saved_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS blocked_requests (
	id BIGSERIAL PRIMARY KEY,
	connection_id BIGINT NOT NULL,
	target TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tunnels (
	id BIGSERIAL PRIMARY KEY,
	connection_id BIGINT NOT NULL,
	host TEXT NOT NULL,
	bytes_in BIGINT NOT NULL DEFAULT 0,
	bytes_out BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id BIGSERIAL PRIMARY KEY,
	connection_id BIGINT NOT NULL,
	error_code TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_target ON requests(target);
CREATE INDEX IF NOT EXISTS idx_cache_events_target ON cache_events(target);
`

// NewPostgresCollector connects with the given DSN and applies the
// schema.
func NewPostgresCollector(dsn string) (*PostgresCollector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Failed to close postgres connection: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Failed to close postgres connection: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to create postgres schema: %w", err)
	}

	logger.Info("PostgreSQL statistics collector initialized")
	return &PostgresCollector{db: db}, nil
}

func (p *PostgresCollector) StartConnection(ctx context.Context, clientAddr string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO connections (client_addr, started_at) VALUES ($1, $2) RETURNING id`,
		clientAddr, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record connection start: %w", err)
	}
	return id, nil
}

func (p *PostgresCollector) EndConnection(ctx context.Context, connID int64, bytesIn, bytesOut int64, duration time.Duration) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE connections SET ended_at = $1, bytes_in = $2, bytes_out = $3, duration_ms = $4 WHERE id = $5`,
		time.Now(), bytesIn, bytesOut, duration.Milliseconds(), connID)
	if err != nil {
		return fmt.Errorf("failed to record connection end: %w", err)
	}
	return nil
}

func (p *PostgresCollector) RecordHTTPRequest(ctx context.Context, connID int64, method, target, host string, statusCode string, responseSize int64, latency time.Duration) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO requests (connection_id, method, target, host, status_code, response_size, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		connID, method, target, host, statusCode, responseSize, latency.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

func (p *PostgresCollector) RecordCacheHit(ctx context.Context, connID int64, target string, timeSaved time.Duration) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO cache_events (connection_id, target, kind, time_saved_ms, created_at) VALUES ($1, $2, 'hit', $3, $4)`,
		connID, target, timeSaved.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	return nil
}

func (p *PostgresCollector) RecordCacheStore(ctx context.Context, connID int64, target string, size int64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO cache_events (connection_id, target, kind, size, created_at) VALUES ($1, $2, 'store', $3, $4)`,
		connID, target, size, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record cache store: %w", err)
	}
	return nil
}

func (p *PostgresCollector) RecordBlockedRequest(ctx context.Context, connID int64, target string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO blocked_requests (connection_id, target, created_at) VALUES ($1, $2, $3)`,
		connID, target, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record blocked request: %w", err)
	}
	return nil
}

func (p *PostgresCollector) RecordTunnel(ctx context.Context, connID int64, host string, bytesIn, bytesOut int64, duration time.Duration) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO tunnels (connection_id, host, bytes_in, bytes_out, duration_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		connID, host, bytesIn, bytesOut, duration.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record tunnel: %w", err)
	}
	return nil
}

func (p *PostgresCollector) RecordError(ctx context.Context, connID int64, errorCode, message string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO errors (connection_id, error_code, message, created_at) VALUES ($1, $2, $3, $4)`,
		connID, errorCode, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

func (p *PostgresCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	stats := &OverviewStats{}

	row := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM connections),
			(SELECT COUNT(*) FROM connections WHERE ended_at IS NULL),
			(SELECT COUNT(*) FROM requests),
			(SELECT COUNT(*) FROM blocked_requests),
			(SELECT COUNT(*) FROM cache_events WHERE kind = 'hit'),
			(SELECT COUNT(*) FROM cache_events WHERE kind = 'store'),
			(SELECT COUNT(*) FROM tunnels),
			(SELECT COUNT(*) FROM errors),
			(SELECT COALESCE(SUM(bytes_in), 0) FROM connections),
			(SELECT COALESCE(SUM(bytes_out), 0) FROM connections),
			(SELECT COALESCE(SUM(time_saved_ms), 0) FROM cache_events WHERE kind = 'hit'),
			(SELECT COALESCE(AVG(latency_ms), 0) FROM requests)`)

	var timeSavedMs int64
	if err := row.Scan(
		&stats.TotalConnections,
		&stats.ActiveConnections,
		&stats.TotalRequests,
		&stats.BlockedRequests,
		&stats.CacheHits,
		&stats.CacheStores,
		&stats.TunnelSessions,
		&stats.Errors,
		&stats.TotalBytesIn,
		&stats.TotalBytesOut,
		&timeSavedMs,
		&stats.AverageFetchTimeMs,
	); err != nil {
		return nil, fmt.Errorf("failed to query overview stats: %w", err)
	}
	stats.TotalTimeSaved = time.Duration(timeSavedMs) * time.Millisecond
	return stats, nil
}

func (p *PostgresCollector) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresCollector) Close() error {
	return p.db.Close()
}
