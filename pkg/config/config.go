// Package config loads and holds the orchestrator configuration: LLM
// endpoints, per-stage model descriptors, MCP servers, retry budgets,
// thresholds, and capture settings. Registries are immutable after
// Initialize and safe for parallel use.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize and
// threaded through the application. After the init phase it is read-only.
type Config struct {
	configDir string

	APIEndpoint  APIEndpointConfig
	APITimeout   time.Duration
	Retry        RetryConfig
	Thresholds   Thresholds
	Capture      CaptureConfig
	Intervention InterventionConfig
	Analysis     AnalysisConfig

	StageModels       *StageModelRegistry
	MCPServerRegistry *MCPServerRegistry
}

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	Stages     int
	MCPServers int
}

// Stats returns configuration statistics for logging and the health endpoint.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Stages:     c.StageModels.Len(),
		MCPServers: len(c.MCPServerRegistry.GetAll()),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer retrieves an MCP server configuration by ID.
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// StageModel retrieves the model descriptor for a stage.
func (c *Config) StageModel(stageID string) *StageModelConfig {
	return c.StageModels.Get(stageID)
}

// MaxAttempts returns the per-item retry budget.
func (c *Config) MaxAttempts() int {
	return c.Retry.ItemExecution.MaxAttempts
}
