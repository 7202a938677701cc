package config

import "time"

// Default values applied when the YAML file leaves a knob unset.
const (
	// DefaultAPITimeout is the per-LLM-call deadline.
	DefaultAPITimeout = 60 * time.Second

	// DefaultMaxAttempts is the per-item retry budget.
	DefaultMaxAttempts = 3

	// DefaultCaptureInterval is the minimum spacing between captures.
	DefaultCaptureInterval = 500 * time.Millisecond

	// DefaultCaptureMaxStored caps retained screenshot files.
	DefaultCaptureMaxStored = 10

	// DefaultCaptureDirectory is the process-wide screenshot directory.
	DefaultCaptureDirectory = "/tmp/atlas-captures"

	// DefaultAnalysisMaxDepth caps recursive self-analysis.
	DefaultAnalysisMaxDepth = 5

	// DefaultModel is used for stages with no explicit descriptor.
	DefaultModel = "gpt-4o-mini"

	// DefaultFallbackModel is the default fallback chain tail.
	DefaultFallbackModel = "gpt-4o"
)

// DefaultThresholds are the self-analysis deepening thresholds.
var DefaultThresholds = Thresholds{
	CodeComplexity:  8,
	ErrorRate:       0.05,
	ResponseTime:    2000,
	Coverage:        0.6,
	MemoryStability: 0.9,
}

// applyDefaults fills unset fields of a parsed file config.
func applyDefaults(fc *fileConfig) {
	if fc.APITimeoutMS == 0 {
		fc.APITimeoutMS = int(DefaultAPITimeout / time.Millisecond)
	}
	if fc.Retry.ItemExecution.MaxAttempts == 0 {
		fc.Retry.ItemExecution.MaxAttempts = DefaultMaxAttempts
	}
	if fc.Capture.IntervalMS == 0 {
		fc.Capture.IntervalMS = int(DefaultCaptureInterval / time.Millisecond)
	}
	if fc.Capture.MaxStored == 0 {
		fc.Capture.MaxStored = DefaultCaptureMaxStored
	}
	if fc.Capture.Directory == "" {
		fc.Capture.Directory = DefaultCaptureDirectory
	}
	if fc.Analysis.MaxDepth == 0 {
		fc.Analysis.MaxDepth = DefaultAnalysisMaxDepth
	}
	zero := Thresholds{}
	if fc.Thresholds == zero {
		fc.Thresholds = DefaultThresholds
	}
}
