package config

// fileConfig is the on-disk YAML document (atlas.yaml). Environment variables
// in values are expanded before unmarshalling.
type fileConfig struct {
	APIEndpoint  APIEndpointConfig            `yaml:"api_endpoint"`
	APITimeoutMS int                          `yaml:"api_timeout_ms,omitempty"`
	Stages       map[string]*StageModelConfig `yaml:"stages,omitempty"`
	Retry        RetryConfig                  `yaml:"retry,omitempty"`
	Thresholds   Thresholds                   `yaml:"thresholds,omitempty"`
	Capture      CaptureConfig                `yaml:"capture,omitempty"`
	Intervention InterventionConfig           `yaml:"intervention,omitempty"`
	MCPServers   map[string]*MCPServerConfig  `yaml:"mcp_servers,omitempty"`
	Analysis     AnalysisConfig               `yaml:"analysis,omitempty"`
}

// APIEndpointConfig selects the LLM endpoint pair.
type APIEndpointConfig struct {
	Primary     string `yaml:"primary"`
	Fallback    string `yaml:"fallback,omitempty"`
	UseFallback bool   `yaml:"useFallback,omitempty"`
	// Environment variable holding the API key for both endpoints.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// StageModelConfig is the per-stage model descriptor.
type StageModelConfig struct {
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	// Fallback model used after persistent primary failure.
	Fallback string `yaml:"fallback,omitempty"`
}

// RetryConfig bounds retry behaviour.
type RetryConfig struct {
	ItemExecution ItemRetryConfig `yaml:"itemExecution,omitempty"`
}

// ItemRetryConfig is the per-item retry budget.
type ItemRetryConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// Thresholds drive self-analysis deepening decisions.
type Thresholds struct {
	CodeComplexity  float64 `yaml:"codeComplexity,omitempty"`
	ErrorRate       float64 `yaml:"errorRate,omitempty"`
	ResponseTime    float64 `yaml:"responseTime,omitempty"`
	Coverage        float64 `yaml:"coverage,omitempty"`
	MemoryStability float64 `yaml:"memoryStability,omitempty"`
}

// CaptureConfig configures the screenshot service.
type CaptureConfig struct {
	IntervalMS int    `yaml:"interval_ms,omitempty"`
	Directory  string `yaml:"directory,omitempty"`
	MaxStored  int    `yaml:"maxStored,omitempty"`
}

// InterventionConfig gates dev-mode code intervention.
type InterventionConfig struct {
	Password string `yaml:"password,omitempty"`
}

// AnalysisConfig bounds the recursive self-analysis loop.
type AnalysisConfig struct {
	MaxDepth int `yaml:"maxDepth,omitempty"`
}

// TransportConfig defines how to reach an MCP server.
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// For http/sse transports
	URL string `yaml:"url,omitempty"`
}

// Validate checks transport consistency.
func (t *TransportConfig) Validate() error {
	if !t.Type.IsValid() {
		return ErrInvalidTransport
	}
	if t.Type == TransportTypeStdio && t.Command == "" {
		return ErrInvalidTransport
	}
	if (t.Type == TransportTypeHTTP || t.Type == TransportTypeSSE) && t.URL == "" {
		return ErrInvalidTransport
	}
	return nil
}

// MCPServerConfig defines one MCP server the executor may use.
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport"`

	// Instructions for the LLM when planning tools against this server.
	Instructions string `yaml:"instructions,omitempty"`
}
