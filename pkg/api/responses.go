package api

import "github.com/atlas-agents/atlas/pkg/pipeline"

// ExecuteResponse wraps the orchestrator result with the session id.
type ExecuteResponse struct {
	SessionID string `json:"sessionId"`
	*pipeline.Result
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	Sessions      int                `json:"sessions"`
	Connections   int                `json:"connections"`
	Configuration ConfigurationStats `json:"configuration"`
	MCPFailed     map[string]string  `json:"mcp_failed,omitempty"`
}

// ConfigurationStats mirrors config.ConfigStats for the health payload.
type ConfigurationStats struct {
	Stages     int `json:"stages"`
	MCPServers int `json:"mcp_servers"`
}

// ErrorResponse is the generic error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
