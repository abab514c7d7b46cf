package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/codefionn/zwischen/zwischen-srv/config"
	"github.com/codefionn/zwischen/zwischen-srv/control"
	"github.com/codefionn/zwischen/zwischen-srv/logger"
	"github.com/codefionn/zwischen/zwischen-srv/proxy"
	"github.com/codefionn/zwischen/zwischen-srv/stats"
)

var version string

func main() {
	cfg, configPath := parseFlagsAndConfig()
	runProxy(cfg, configPath)
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (cfg *config.Config, configPath string) {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "config.json", "Path to configuration file (supports .json and .hcl formats)")
	envfile := flag.String("envfile", "", "Path to env file to load environment variables")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("zwischen version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	if *debugMode {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	}

	logger.Info("Starting zwischen proxy server")
	logger.Debug("Using configuration file: %s", *configPathPtr)

	cfg, err := config.LoadConfig(*configPathPtr)
	if err != nil {
		logger.Warn("Could not load config file: %v. Using environment variables.", err)
		cfg, err = config.LoadConfig("")
		if err != nil {
			logger.Fatal("Failed to load configuration: %v", err)
		}
	}

	logger.Debug("Configuration loaded successfully")
	logger.Debug("Listen address: %s", cfg.ListenAddress)
	logger.Debug("Origin ports: http=%d https=%d", cfg.HTTPPort, cfg.HTTPSPort)
	logger.Debug("Max connections: %d", cfg.MaxConcurrentConnections)
	logger.Debug("Blocklist entries at startup: %d", len(cfg.Blocklist))

	return cfg, *configPathPtr
}

// instance bundles a running proxy with its collector and optional
// control API so a reload can tear everything down together.
type instance struct {
	proxy     *proxy.Proxy
	collector stats.Collector
	control   *control.Server
}

func buildInstance(cfg *config.Config) (*instance, error) {
	collector, err := stats.NewCollector(cfg.Statistics)
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics collector: %w", err)
	}

	inst := &instance{collector: collector}

	if cfg.Control.Enabled {
		hub := control.NewHub()
		inst.proxy = proxy.NewProxy(cfg, collector, hub)
		inst.control = control.NewServer(cfg.Control, inst.proxy, hub)
	} else {
		inst.proxy = proxy.NewProxy(cfg, collector, nil)
	}
	return inst, nil
}

func (inst *instance) start(shutdownChan chan<- struct{}) {
	go func() {
		logger.Info("Starting proxy server...")
		if err := inst.proxy.Start(); err != nil {
			logger.Fatal("Proxy server error: %v", err)
		}
		shutdownChan <- struct{}{}
	}()

	if inst.control != nil {
		go func() {
			if err := inst.control.Start(); err != nil {
				logger.Error("Control API error: %v", err)
			}
		}()
	}
}

func (inst *instance) stop() {
	inst.proxy.Stop()
	if inst.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.control.Stop(ctx); err != nil {
			logger.Error("Error stopping control API: %v", err)
		}
	}
	if err := inst.collector.Close(); err != nil {
		logger.Error("Error closing statistics collector: %v", err)
	}
}

// runProxy starts and manages the proxy server, including signal handling and reloads.
func runProxy(cfg *config.Config, configPath string) {
	inst, err := buildInstance(cfg)
	if err != nil {
		logger.Fatal("%v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	shutdownChan := make(chan struct{}, 1)

	inst.start(shutdownChan)
	currentCfg := cfg

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			logger.Info("Received SIGHUP: reloading configuration...")
			newCfg, err := config.LoadConfig(configPath)
			if err != nil {
				logger.Error("Failed to reload config: %v (keeping current config)", err)
				continue
			}
			if !config.HasChanged(currentCfg, newCfg) {
				logger.Info("Config unchanged after reload; not restarting proxy.")
				continue
			}
			logger.Info("Config changed. Restarting proxy...")
			inst.stop()
			newInst, err := buildInstance(newCfg)
			if err != nil {
				logger.Fatal("Failed to rebuild proxy after reload: %v", err)
			}
			inst = newInst
			inst.start(shutdownChan)
			currentCfg = newCfg
			logger.Info("Proxy restarted with new configuration.")
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("Received signal %v, shutting down proxy server...", sig)
			inst.stop()
			logger.Info("Proxy server shutdown complete")
			return
		}
	}
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing env file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if setErr := os.Setenv(key, val); setErr != nil {
			logger.Error("Error setting environment variable %s: %v", key, setErr)
		}
	}
	return scanner.Err()
}
