package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclRoot mirrors Config with optional HCL attributes so that a config
// file only has to mention the settings it changes.
type hclRoot struct {
	ListenAddress            *string           `hcl:"listen-address,optional"`
	Backlog                  *int              `hcl:"backlog,optional"`
	BufferSize               *int              `hcl:"buffer-size,optional"`
	HTTPPort                 *int              `hcl:"http-port,optional"`
	HTTPSPort                *int              `hcl:"https-port,optional"`
	MaxConcurrentConnections *int              `hcl:"max-concurrent-connections,optional"`
	Blocklist                []string          `hcl:"blocklist,optional"`
	Statistics               *StatisticsConfig `hcl:"statistics,block"`
	Control                  *ControlConfig    `hcl:"control,block"`
}

func loadHCLConfig(configPath string, cfg *Config) error {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}

	src, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, cleanPath)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL config: %s", diags.Error())
	}

	var root hclRoot
	diags = gohcl.DecodeBody(file.Body, hclEvalContext(), &root)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL config: %s", diags.Error())
	}

	if root.ListenAddress != nil {
		cfg.ListenAddress = *root.ListenAddress
	}
	if root.Backlog != nil {
		cfg.Backlog = *root.Backlog
	}
	if root.BufferSize != nil {
		cfg.BufferSize = *root.BufferSize
	}
	if root.HTTPPort != nil {
		cfg.HTTPPort = *root.HTTPPort
	}
	if root.HTTPSPort != nil {
		cfg.HTTPSPort = *root.HTTPSPort
	}
	if root.MaxConcurrentConnections != nil {
		cfg.MaxConcurrentConnections = *root.MaxConcurrentConnections
	}
	if root.Blocklist != nil {
		cfg.Blocklist = root.Blocklist
	}
	if root.Statistics != nil {
		cfg.Statistics = *root.Statistics
	}
	if root.Control != nil {
		cfg.Control = *root.Control
	}

	return nil
}

// hclEvalContext exposes the process environment to HCL expressions as
// the "env" object, e.g. `postgres-dsn = env.ZWISCHEN_DSN`. Secrets can
// stay out of the config file this way, matching the _secret indirection
// of the JSON format.
func hclEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		vars[parts[0]] = cty.StringVal(parts[1])
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}
