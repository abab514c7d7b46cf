package stats

import (
	"fmt"

	"github.com/codefionn/zwischen/zwischen-srv/config"
	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// NewCollector creates the statistics collector described by the
// configuration. Disabled statistics yield an in-memory collector so
// callers never deal with a nil Collector.
func NewCollector(cfg config.StatisticsConfig) (Collector, error) {
	if !cfg.Enabled {
		logger.Debug("Statistics disabled, using in-memory collector")
		return NewDummyCollector(), nil
	}

	switch cfg.Backend {
	case config.StatsBackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite statistics backend requires a database path")
		}
		return NewSQLiteCollector(cfg.SQLitePath)
	case config.StatsBackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres statistics backend requires a DSN")
		}
		return NewPostgresCollector(cfg.PostgresDSN)
	case config.StatsBackendMemory, "":
		return NewDummyCollector(), nil
	default:
		return nil, fmt.Errorf("unknown statistics backend: %q", cfg.Backend)
	}
}
