package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// Default network settings.
const (
	DefaultListenAddress = "127.0.0.1:4000"
	DefaultBacklog       = 10
	DefaultBufferSize    = 8192
	DefaultHTTPPort      = 80
	DefaultHTTPSPort     = 443
)

// Supported statistics backends.
const (
	StatsBackendMemory   = "memory"
	StatsBackendSQLite   = "sqlite"
	StatsBackendPostgres = "postgres"
)

// StatisticsConfig defines settings for the statistics collector backend.
type StatisticsConfig struct {
	Enabled       bool   `json:"enabled" hcl:"enabled,optional"`
	Backend       string `json:"backend" hcl:"backend,optional"`
	SQLitePath    string `json:"sqlite-path" hcl:"sqlite-path,optional"`
	PostgresDSN   string `json:"postgres-dsn" hcl:"postgres-dsn,optional"`
	FlushInterval int    `json:"flush-interval" hcl:"flush-interval,optional"`
}

// ControlConfig defines settings for the admin control API.
type ControlConfig struct {
	Enabled       bool   `json:"enabled" hcl:"enabled,optional"`
	ListenAddress string `json:"listen-address" hcl:"listen-address,optional"`
	AuthSecret    string `json:"auth-secret" hcl:"auth-secret,optional"`
}

// Config represents the main configuration structure for the proxy server.
type Config struct {
	ListenAddress string // Address to listen on (e.g., 127.0.0.1:4000)
	Backlog       int    // Advisory accept backlog, logged at startup
	BufferSize    int    // Socket read buffer size in bytes
	HTTPPort      int    // Origin port for plain HTTP fetches
	HTTPSPort     int    // Origin port for CONNECT tunnels

	// MaxConcurrentConnections caps in-flight connections when > 0.
	// 0 preserves the unbounded one-goroutine-per-connection model.
	MaxConcurrentConnections int

	Blocklist []string // Targets blocked at startup

	Statistics StatisticsConfig
	Control    ControlConfig
}

// LoadConfig loads configuration from the specified file path.
// An empty path loads defaults plus environment overrides only.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		Backlog:       DefaultBacklog,
		BufferSize:    DefaultBufferSize,
		HTTPPort:      DefaultHTTPPort,
		HTTPSPort:     DefaultHTTPSPort,
	}

	// Apply environment variables
	loadConfigFromEnv(cfg)

	// If config file exists, load it
	if configPath != "" {
		var err error

		ext := filepath.Ext(configPath)
		switch strings.ToLower(ext) {
		case ".json":
			err = loadJSONConfig(configPath, cfg)
		case ".hcl":
			err = loadHCLConfig(configPath, cfg)
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}

		if err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the proxy cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen-address must not be empty")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer-size must be positive, got %d", c.BufferSize)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port out of range: %d", c.HTTPPort)
	}
	if c.HTTPSPort <= 0 || c.HTTPSPort > 65535 {
		return fmt.Errorf("https-port out of range: %d", c.HTTPSPort)
	}
	if c.MaxConcurrentConnections < 0 {
		return fmt.Errorf("max-concurrent-connections must not be negative, got %d", c.MaxConcurrentConnections)
	}
	if c.Control.Enabled && c.Control.ListenAddress == "" {
		return fmt.Errorf("control.listen-address must be set when the control API is enabled")
	}
	return nil
}

// HasChanged reports whether two configurations differ. Used by the
// SIGHUP reload path to skip pointless restarts.
func HasChanged(oldCfg, newCfg *Config) bool {
	return !reflect.DeepEqual(oldCfg, newCfg)
}

func loadJSONConfig(configPath string, cfg *Config) error {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Decode into a map first to handle the hyphenated keys
	var data map[string]any
	err = json.NewDecoder(file).Decode(&data)
	if err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}

	if val, exists := data["listen-address"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("listen-address must be a string: %w", err)
		}
		cfg.ListenAddress = *ptr
	}

	if val, exists := data["backlog"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("backlog must be a number: %w", err)
		}
		cfg.Backlog = *ptr
	}

	if val, exists := data["buffer-size"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("buffer-size must be a number: %w", err)
		}
		cfg.BufferSize = *ptr
	}

	if val, exists := data["http-port"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("http-port must be a number: %w", err)
		}
		cfg.HTTPPort = *ptr
	}

	if val, exists := data["https-port"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("https-port must be a number: %w", err)
		}
		cfg.HTTPSPort = *ptr
	}

	if val, exists := data["max-concurrent-connections"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("max-concurrent-connections must be a number: %w", err)
		}
		cfg.MaxConcurrentConnections = *ptr
	}

	if val, exists := data["blocklist"]; exists {
		list, ok := val.([]any)
		if !ok {
			return fmt.Errorf("blocklist must be an array")
		}
		cfg.Blocklist = nil
		for i, entry := range list {
			ptr, err := parseValue[string](entry)
			if err != nil {
				return fmt.Errorf("blocklist entry at index %d must be a string: %w", i, err)
			}
			cfg.Blocklist = append(cfg.Blocklist, *ptr)
		}
	}

	if val, exists := data["statistics"]; exists {
		statsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("statistics must be an object")
		}
		if err := parseStatistics(statsMap, &cfg.Statistics); err != nil {
			return err
		}
	}

	if val, exists := data["control"]; exists {
		controlMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("control must be an object")
		}
		if err := parseControl(controlMap, &cfg.Control); err != nil {
			return err
		}
	}

	return nil
}

func parseStatistics(data map[string]any, out *StatisticsConfig) error {
	if val, exists := data["enabled"]; exists {
		ptr, err := parseValue[bool](val)
		if err != nil {
			return fmt.Errorf("statistics.enabled must be a boolean: %w", err)
		}
		out.Enabled = *ptr
	}
	if val, exists := data["backend"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("statistics.backend must be a string: %w", err)
		}
		out.Backend = *ptr
	}
	if val, exists := data["sqlite-path"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("statistics.sqlite-path must be a string: %w", err)
		}
		out.SQLitePath = *ptr
	}
	if val, exists := data["postgres-dsn"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("statistics.postgres-dsn must be a string: %w", err)
		}
		out.PostgresDSN = *ptr
	}
	if val, exists := data["flush-interval"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("statistics.flush-interval must be a number: %w", err)
		}
		out.FlushInterval = *ptr
	}
	return nil
}

func parseControl(data map[string]any, out *ControlConfig) error {
	if val, exists := data["enabled"]; exists {
		ptr, err := parseValue[bool](val)
		if err != nil {
			return fmt.Errorf("control.enabled must be a boolean: %w", err)
		}
		out.Enabled = *ptr
	}
	if val, exists := data["listen-address"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("control.listen-address must be a string: %w", err)
		}
		out.ListenAddress = *ptr
	}
	if val, exists := data["auth-secret"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("control.auth-secret must be a string: %w", err)
		}
		out.AuthSecret = *ptr
	}
	return nil
}

// parseValue converts a decoded JSON value into the requested type.
// A map carrying a "_secret" key is resolved through the environment,
// so credentials never have to live in the config file itself.
func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	// Secret-case: retrieve env var
	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		// JSON number
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		default:
			return nil, fmt.Errorf("expected %T, got JSON number", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(v, 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		case reflect.Bool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			elem.SetBool(b)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	case bool:
		if elem.Kind() == reflect.Bool {
			elem.SetBool(v)
		} else {
			return nil, fmt.Errorf("expected %T, got bool", zero)
		}
	default:
		// direct-case: cast
		if rv, ok := value.(T); ok {
			return &rv, nil
		}
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

func loadConfigFromEnv(cfg *Config) {
	if addr := os.Getenv("ZWISCHEN_LISTENADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}

	if bufStr := os.Getenv("ZWISCHEN_BUFFERSIZE"); bufStr != "" {
		if buf, err := strconv.Atoi(bufStr); err == nil {
			cfg.BufferSize = buf
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for ZWISCHEN_BUFFERSIZE: %s\n", bufStr)
		}
	}

	if maxConnStr := os.Getenv("ZWISCHEN_MAXCONCURRENTCONNECTIONS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			cfg.MaxConcurrentConnections = maxConn
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for ZWISCHEN_MAXCONCURRENTCONNECTIONS: %s\n", maxConnStr)
		}
	}

	if blocked := os.Getenv("ZWISCHEN_BLOCKLIST"); blocked != "" {
		for _, entry := range strings.Split(blocked, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.Blocklist = append(cfg.Blocklist, entry)
			}
		}
	}
}
