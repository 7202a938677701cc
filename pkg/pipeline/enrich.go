package pipeline

import (
	"context"

	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// ContextEnricher is Stage 0.5: rewrite the utterance and surface implicit
// requirements, prerequisites, and a 1–10 complexity estimate.
type ContextEnricher struct {
	runner *stage.Runner
}

// NewContextEnricher creates the stage.
func NewContextEnricher(runner *stage.Runner) *ContextEnricher {
	return &ContextEnricher{runner: runner}
}

// Enrich produces the enriched request. On any failure the original message
// passes through unchanged with the fallback flag set.
func (e *ContextEnricher) Enrich(ctx context.Context, original string) models.EnrichedRequest {
	outcome := e.runner.Run(ctx, stage.Request{
		StageID:    stage.StageEnrich,
		PromptID:   prompt.PromptEnrich,
		Vars:       map[string]string{"message": original},
		JSONObject: true,
	})

	if outcome.Status == stage.StatusOk {
		if enriched, ok := decodeEnriched(original, outcome.Object); ok {
			return enriched
		}
	}

	return models.EnrichedRequest{
		Original:            original,
		Enriched:            original,
		EstimatedComplexity: 5,
		Fallback:            true,
	}
}

// decodeEnriched validates the parsed object. Complexity outside 1..10 is a
// rejection, not a clamp.
func decodeEnriched(original string, obj map[string]any) (models.EnrichedRequest, bool) {
	complexity, ok := asInt(obj["estimated_complexity"])
	if !ok || complexity < 1 || complexity > 10 {
		return models.EnrichedRequest{}, false
	}

	enriched := asString(obj["enriched"])
	if enriched == "" {
		enriched = original
	}

	return models.EnrichedRequest{
		Original:                original,
		Enriched:                enriched,
		ImplicitRequirements:    asStringSlice(obj["implicit_requirements"]),
		Prerequisites:           asStringSlice(obj["prerequisites"]),
		TechnicalSpecifications: asStringMap(obj["technical_specifications"]),
		EstimatedComplexity:     complexity,
	}, true
}
