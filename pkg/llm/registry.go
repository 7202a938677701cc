package llm

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atlas-agents/atlas/pkg/config"
)

func getenv(key string) string { return os.Getenv(key) }

// ModelProber checks whether a model id is currently served.
type ModelProber interface {
	GetModel(ctx context.Context, modelID string) (openai.Model, error)
}

// Registry resolves per-stage model configuration and availability.
type Registry struct {
	stages *config.StageModelRegistry
	prober ModelProber // nil disables probing (assume available)
}

// NewRegistry creates a model registry over the configured stage descriptors.
func NewRegistry(stages *config.StageModelRegistry, prober ModelProber) *Registry {
	return &Registry{stages: stages, prober: prober}
}

// ForStage returns the model descriptor for a pipeline stage.
func (r *Registry) ForStage(stageID string) *config.StageModelConfig {
	return r.stages.Get(stageID)
}

// Probe reports whether the model is currently available. Without a prober
// the model is assumed available; probe errors mean unavailable.
func (r *Registry) Probe(ctx context.Context, model string) bool {
	if r.prober == nil {
		return true
	}
	_, err := r.prober.GetModel(ctx, model)
	return err == nil
}

// ResolveChain returns the usable model chain for a stage: the configured
// model followed by its fallback, filtered by availability probes.
func (r *Registry) ResolveChain(ctx context.Context, stageID string) []string {
	cfg := r.ForStage(stageID)
	var chain []string
	for _, m := range []string{cfg.Model, cfg.Fallback} {
		if m == "" {
			continue
		}
		if r.Probe(ctx, m) {
			chain = append(chain, m)
		}
	}
	if len(chain) == 0 && cfg.Model != "" {
		// Probes can be wrong (transient registry errors); never return an
		// empty chain when a model is configured.
		chain = append(chain, cfg.Model)
	}
	return chain
}
