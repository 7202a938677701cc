package stage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atlas-agents/atlas/pkg/llm"
	"github.com/atlas-agents/atlas/pkg/parse"
	"github.com/atlas-agents/atlas/pkg/prompt"
)

// Caller is the LLM surface the runner needs. Implemented by *llm.Gateway;
// stubbed in tests with scripted responses.
type Caller interface {
	Call(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Request describes one stage execution.
type Request struct {
	StageID  string
	PromptID string
	Vars     map[string]string
	// JSONObject requests response_format json_object from the gateway.
	JSONObject bool
}

// Runner executes one pipeline stage: resolve prompt → render → call LLM →
// parse → validate → emit outcome with timing metadata.
type Runner struct {
	prompts *prompt.Store
	gateway Caller
	models  *llm.Registry
	schemas *SchemaSet
	logger  *slog.Logger
}

// NewRunner wires a stage runner.
func NewRunner(prompts *prompt.Store, gateway Caller, models *llm.Registry, schemas *SchemaSet) *Runner {
	return &Runner{
		prompts: prompts,
		gateway: gateway,
		models:  models,
		schemas: schemas,
		logger:  slog.Default(),
	}
}

// Run executes the stage and returns its outcome. Never panics; every
// failure path is reflected in the outcome so the pipeline can fold.
func (r *Runner) Run(ctx context.Context, req Request) Outcome {
	started := time.Now()
	meta := Meta{StageID: req.StageID}

	system, user, err := r.prompts.Render(req.PromptID, req.Vars)
	if err != nil {
		return Fail(KindBadResponse, "prompt: "+err.Error(), meta)
	}

	modelCfg := r.models.ForStage(req.StageID)
	resp, err := r.gateway.Call(ctx, llm.Request{
		System:      system,
		User:        user,
		Model:       modelCfg.Model,
		Fallback:    modelCfg.Fallback,
		Temperature: modelCfg.Temperature,
		MaxTokens:   modelCfg.MaxTokens,
		JSONObject:  req.JSONObject,
	})
	meta.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Fail(KindCancelled, err.Error(), meta)
		}
		var gwErr *llm.Error
		if errors.As(err, &gwErr) {
			return Fail(fromLLMKind(gwErr.Kind), gwErr.Error(), meta)
		}
		return Fail(KindTransport, err.Error(), meta)
	}
	meta.ModelUsed = resp.Model

	parsed := parse.Extract(resp.Text)
	meta.ParseConfidence = parsed.Confidence
	meta.FallbackParsed = parsed.FallbackParsed

	if parsed.FallbackParsed {
		r.logger.Warn("Stage response required keyword fallback",
			"stage", req.StageID, "model", resp.Model)
		return Fallback(parsed.Object, "parse_failure", meta)
	}

	if err := r.schemas.Validate(req.StageID, parsed.Object); err != nil {
		r.logger.Warn("Stage response failed schema validation",
			"stage", req.StageID, "error", err)
		return Fallback(parsed.Object, "schema_validation: "+err.Error(), meta)
	}

	r.logger.Debug("Stage completed",
		"stage", req.StageID, "model", resp.Model, "duration_ms", meta.DurationMS)
	return Ok(parsed.Object, meta)
}
