// Package stage provides the generic stage runner: prompt resolution, LLM
// call, tolerant parsing, schema validation, and the sum-typed outcome the
// pipeline folds over.
package stage

import (
	"github.com/atlas-agents/atlas/pkg/llm"
)

// ErrorKind enumerates pipeline failure kinds.
type ErrorKind string

const (
	KindRateLimited        ErrorKind = "rate_limited"
	KindTimeout            ErrorKind = "timeout"
	KindTransport          ErrorKind = "transport"
	KindModelUnavailable   ErrorKind = "model_unavailable"
	KindBadResponse        ErrorKind = "bad_response"
	KindParseFailure       ErrorKind = "parse_failure"
	KindSchemaValidation   ErrorKind = "schema_validation"
	KindUnknownServer      ErrorKind = "unknown_server"
	KindUnknownTool        ErrorKind = "unknown_tool"
	KindToolExecution      ErrorKind = "tool_execution"
	KindVisionUnstructured ErrorKind = "vision_unstructured"
	KindVerificationFailed ErrorKind = "verification_failed"
	KindNeedsSplit         ErrorKind = "needs_split"
	KindAuthRequired       ErrorKind = "auth_required"
	KindCancelled          ErrorKind = "cancelled"
	KindEmptyPlan          ErrorKind = "empty_plan"
)

// fromLLMKind maps gateway failure kinds onto stage error kinds.
func fromLLMKind(k llm.Kind) ErrorKind {
	switch k {
	case llm.KindRateLimited:
		return KindRateLimited
	case llm.KindTimeout:
		return KindTimeout
	case llm.KindTransport:
		return KindTransport
	case llm.KindModelUnavailable:
		return KindModelUnavailable
	default:
		return KindBadResponse
	}
}

// Status is the outcome discriminator.
type Status int

const (
	// StatusOk — the stage produced validated output.
	StatusOk Status = iota
	// StatusFallback — partial output produced by a degraded path; the
	// caller applies its stage-specific fallback interpretation.
	StatusFallback
	// StatusFail — the stage failed; Kind and Detail describe why.
	StatusFail
)

// Meta captures per-stage execution metadata.
type Meta struct {
	StageID         string
	ModelUsed       string
	DurationMS      int64
	ParseConfidence float64
	FallbackParsed  bool
}

// Outcome is the sum-typed stage result. The pipeline is a fold over these:
// Ok advances, Fallback advances with reduced confidence, Fail resolves via
// the stage's error policy.
type Outcome struct {
	Status Status
	Object map[string]any
	Reason string // set for StatusFallback
	Kind   ErrorKind
	Detail string // set for StatusFail
	Meta   Meta
}

// Ok builds a successful outcome.
func Ok(obj map[string]any, meta Meta) Outcome {
	return Outcome{Status: StatusOk, Object: obj, Meta: meta}
}

// Fallback builds a degraded outcome carrying partial output.
func Fallback(obj map[string]any, reason string, meta Meta) Outcome {
	return Outcome{Status: StatusFallback, Object: obj, Reason: reason, Meta: meta}
}

// Fail builds a failed outcome.
func Fail(kind ErrorKind, detail string, meta Meta) Outcome {
	return Outcome{Status: StatusFail, Kind: kind, Detail: detail, Meta: meta}
}

// Usable reports whether the outcome carries an object the caller can read.
func (o Outcome) Usable() bool {
	return o.Status != StatusFail && o.Object != nil
}
