package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML document loaded from the config directory.
const ConfigFileName = "atlas.yaml"

// Initialize loads the configuration file from configDir, expands environment
// variables, applies defaults, validates, and builds the registries.
// A missing file is not an error: built-in defaults apply (useful for tests
// and first run), but a present-but-broken file is fatal.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	path := filepath.Join(configDir, ConfigFileName)

	var fc fileConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		slog.Warn("Configuration file not found, using built-in defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	applyDefaults(&fc)

	if err := validate(&fc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	defaultStage := &StageModelConfig{
		Model:    DefaultModel,
		Fallback: DefaultFallbackModel,
	}

	cfg := &Config{
		configDir:         configDir,
		APIEndpoint:       fc.APIEndpoint,
		APITimeout:        time.Duration(fc.APITimeoutMS) * time.Millisecond,
		Retry:             fc.Retry,
		Thresholds:        fc.Thresholds,
		Capture:           fc.Capture,
		Intervention:      fc.Intervention,
		Analysis:          fc.Analysis,
		StageModels:       NewStageModelRegistry(fc.Stages, defaultStage),
		MCPServerRegistry: NewMCPServerRegistry(fc.MCPServers),
	}

	stats := cfg.Stats()
	slog.Info("Configuration initialized",
		"config_dir", configDir,
		"stages", stats.Stages,
		"mcp_servers", stats.MCPServers)

	return cfg, nil
}

// validate checks cross-field consistency of the parsed document.
func validate(fc *fileConfig) error {
	var errs []error

	for id, server := range fc.MCPServers {
		if server == nil {
			errs = append(errs, fmt.Errorf("mcp server %q: empty configuration", id))
			continue
		}
		if err := server.Transport.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %q: %w", id, err))
		}
	}

	for id, stage := range fc.Stages {
		if stage == nil || stage.Model == "" {
			errs = append(errs, fmt.Errorf("stage %q: model is required", id))
		}
	}

	if fc.Analysis.MaxDepth > DefaultAnalysisMaxDepth {
		errs = append(errs, fmt.Errorf("analysis.maxDepth %d exceeds hard cap %d",
			fc.Analysis.MaxDepth, DefaultAnalysisMaxDepth))
	}

	return errors.Join(errs...)
}
