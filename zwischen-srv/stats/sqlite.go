package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// SQLiteCollector persists statistics to a local SQLite database.
type SQLiteCollector struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_addr TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	bytes_in INTEGER NOT NULL DEFAULT 0,
	bytes_out INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL,
	method TEXT NOT NULL,
	target TEXT NOT NULL,
	host TEXT NOT NULL,
	status_code TEXT NOT NULL,
	response_size INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL,
	target TEXT NOT NULL,
	kind TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	time_saved_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS blocked_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL,
	target TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tunnels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL,
	host TEXT NOT NULL,
	bytes_in INTEGER NOT NULL DEFAULT 0,
	bytes_out INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL,
	error_code TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_target ON requests(target);
CREATE INDEX IF NOT EXISTS idx_cache_events_target ON cache_events(target);
`

// NewSQLiteCollector opens (or creates) the database at path and
// applies the schema. WAL mode keeps readers from blocking the write
// path.
func NewSQLiteCollector(path string) (*SQLiteCollector, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Failed to close sqlite database: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	logger.Info("SQLite statistics collector initialized at %s", path)
	return &SQLiteCollector{db: db}, nil
}

func (s *SQLiteCollector) StartConnection(ctx context.Context, clientAddr string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (client_addr, started_at) VALUES (?, ?)`,
		clientAddr, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to record connection start: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteCollector) EndConnection(ctx context.Context, connID int64, bytesIn, bytesOut int64, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET ended_at = ?, bytes_in = ?, bytes_out = ?, duration_ms = ? WHERE id = ?`,
		time.Now(), bytesIn, bytesOut, duration.Milliseconds(), connID)
	if err != nil {
		return fmt.Errorf("failed to record connection end: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordHTTPRequest(ctx context.Context, connID int64, method, target, host string, statusCode string, responseSize int64, latency time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (connection_id, method, target, host, status_code, response_size, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		connID, method, target, host, statusCode, responseSize, latency.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordCacheHit(ctx context.Context, connID int64, target string, timeSaved time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_events (connection_id, target, kind, time_saved_ms, created_at) VALUES (?, ?, 'hit', ?, ?)`,
		connID, target, timeSaved.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordCacheStore(ctx context.Context, connID int64, target string, size int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_events (connection_id, target, kind, size, created_at) VALUES (?, ?, 'store', ?, ?)`,
		connID, target, size, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record cache store: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordBlockedRequest(ctx context.Context, connID int64, target string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocked_requests (connection_id, target, created_at) VALUES (?, ?, ?)`,
		connID, target, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record blocked request: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordTunnel(ctx context.Context, connID int64, host string, bytesIn, bytesOut int64, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tunnels (connection_id, host, bytes_in, bytes_out, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		connID, host, bytesIn, bytesOut, duration.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record tunnel: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordError(ctx context.Context, connID int64, errorCode, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO errors (connection_id, error_code, message, created_at) VALUES (?, ?, ?, ?)`,
		connID, errorCode, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	stats := &OverviewStats{}

	row := s.db.QueryRowContext(ctx, `
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

func (s *SQLiteCollector) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteCollector) Close() error {
	return s.db.Close()
}
