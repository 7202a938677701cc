package models

import "time"

// Utterance is the raw user input handed to the orchestrator.
type Utterance struct {
	Text     string   `json:"text"`
	Recent   []string `json:"recent,omitempty"` // bounded recent dialogue turns
	Password string   `json:"password,omitempty"`
}

// ModeDecision is the Stage 0 output.
type ModeDecision struct {
	Mode       Mode    `json:"mode"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	// Fallback is set when the decision came from the keyword probe rather
	// than a parsed LLM response.
	Fallback bool `json:"fallback,omitempty"`
}

// EnrichedRequest is the Stage 0.5 output.
type EnrichedRequest struct {
	Original                string            `json:"original"`
	Enriched                string            `json:"enriched"`
	ImplicitRequirements    []string          `json:"implicit_requirements,omitempty"`
	Prerequisites           []string          `json:"prerequisites,omitempty"`
	TechnicalSpecifications map[string]string `json:"technical_specifications,omitempty"`
	EstimatedComplexity     int               `json:"estimated_complexity"` // 1..10
	Fallback                bool              `json:"fallback,omitempty"`
}

// ServerSelection is the Stage 2.0 output for one item.
type ServerSelection struct {
	SelectedServers []string `json:"selected_servers"`
	SelectedPrompts []string `json:"selected_prompts,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	Confidence      float64  `json:"confidence"`
	NeedsSplit      bool     `json:"needs_split,omitempty"`
	// SuggestedPartition carries a binary split proposal when NeedsSplit is
	// set: two server groups for the two replacement items.
	SuggestedPartition [2][]string `json:"suggested_partition,omitempty"`
}

// ToolCall is a single planned MCP invocation.
type ToolCall struct {
	Server        string         `json:"server"`
	Tool          string         `json:"tool"` // qualified server__tool
	Parameters    map[string]any `json:"parameters,omitempty"`
	IsLongRunning bool           `json:"is_long_running,omitempty"`
}

// ToolPlan is the ordered tool-call plan for one item.
type ToolPlan struct {
	Calls []ToolCall `json:"calls"`
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Success   bool           `json:"success"`
	Tool      string         `json:"tool"` // qualified name
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExecutionReport aggregates one tool-plan run.
type ExecutionReport struct {
	AllSuccessful   bool          `json:"all_successful"`
	SuccessfulCount int           `json:"successful_count"`
	FailedCount     int           `json:"failed_count"`
	Results         []ToolResult  `json:"results"` // preserves plan index
	ExecutionTimeMS int64         `json:"execution_time_ms"`
	Mode            ExecutionMode `json:"mode"`
	// StoppedAtIndex is set in step-by-step mode when execution stopped at
	// the first failing call. -1 means the plan ran to the end.
	StoppedAtIndex int    `json:"stopped_at_index,omitempty"`
	StoppedReason  string `json:"stopped_reason,omitempty"`
}

// DataCheck is one data-path verification probe proposed by the router.
type DataCheck struct {
	Server           string         `json:"server"`
	Tool             string         `json:"tool"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	ExpectedEvidence string         `json:"expected_evidence,omitempty"`
}

// VerificationDecision is the Stage 2.3a routing output.
type VerificationDecision struct {
	VisualPossible      bool             `json:"visual_possible"`
	Confidence          float64          `json:"confidence"`
	Reason              string           `json:"reason,omitempty"`
	RecommendedPath     VerificationPath `json:"recommended_path"`
	AdditionalChecks    []DataCheck      `json:"additional_checks,omitempty"`
	AllowVisualFallback bool             `json:"allow_visual_fallback"`
	VerificationAction  string           `json:"verification_action"`
}

// VisualEvidence is the structured payload of a vision-model verdict.
type VisualEvidence struct {
	Observed        string `json:"observed"`
	MatchesCriteria bool   `json:"matches_criteria"`
	Details         string `json:"details,omitempty"`
}

// Verification is the final verdict for one item attempt.
type Verification struct {
	Verified             bool               `json:"verified"`
	Confidence           float64            `json:"confidence"` // 0–100
	Reason               string             `json:"reason,omitempty"`
	Method               VerificationMethod `json:"method"`
	VisualEvidence       *VisualEvidence    `json:"visual_evidence,omitempty"`
	ScreenshotPath       string             `json:"screenshot_path,omitempty"`
	VisionModel          string             `json:"vision_model,omitempty"`
	MCPResults           []ToolResult       `json:"mcp_results,omitempty"`
	TTSPhrase            string             `json:"tts_phrase,omitempty"`
	FallbackDetected     bool               `json:"_fallback_detected,omitempty"`
	SecurityChecksPassed bool               `json:"_security_checks_passed"`
	NextAction           NextAction         `json:"next_action,omitempty"`
	RootCause            RootCause          `json:"root_cause,omitempty"`
	Strategy             RecoveryStrategy   `json:"strategy,omitempty"`
}

// LogTails holds the gathered log excerpts for self-analysis.
type LogTails struct {
	Error        string `json:"error,omitempty"`
	Orchestrator string `json:"orchestrator,omitempty"`
	Frontend     string `json:"frontend,omitempty"`
	Metrics      string `json:"metrics,omitempty"`
}

// AnalysisContext is the gathered state for one self-analysis run.
type AnalysisContext struct {
	Logs        LogTails  `json:"logs"`
	MemoryUsage string    `json:"memory_usage,omitempty"`
	Uptime      string    `json:"uptime,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	// Fallback marks a context assembled without the filesystem MCP server.
	Fallback bool `json:"fallback,omitempty"`
}
