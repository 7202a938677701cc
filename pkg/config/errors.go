package config

import "errors"

// Sentinel errors for configuration lookups and validation.
var (
	ErrMCPServerNotFound   = errors.New("MCP server not found in configuration")
	ErrStageNotFound       = errors.New("stage model configuration not found")
	ErrInvalidTransport    = errors.New("invalid MCP transport configuration")
	ErrValidation          = errors.New("configuration validation failed")
	ErrMissingEndpoint     = errors.New("api_endpoint.primary is required")
	ErrMissingIntervention = errors.New("intervention.password is required for dev mode")
)
