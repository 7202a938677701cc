// Package pipeline implements the staged orchestration pipeline: mode
// selection, context enrichment, to-do planning, per-item server selection,
// tool planning, execution, hybrid verification, replanning, and the final
// summary. Stages communicate through sum-typed outcomes; the orchestrator
// folds over them.
package pipeline

import (
	"context"
	"strings"

	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// modeSynonyms normalizes model-invented labels onto the three modes.
var modeSynonyms = map[string]models.Mode{
	"chat":          models.ModeChat,
	"greeting":      models.ModeChat,
	"question":      models.ModeChat,
	"casual":        models.ModeChat,
	"task":          models.ModeTask,
	"action":        models.ModeTask,
	"command":       models.ModeTask,
	"dev":           models.ModeDev,
	"self-analysis": models.ModeDev,
	"self_analysis": models.ModeDev,
	"selfanalysis":  models.ModeDev,
}

// ModeSelector is Stage 0: classify the utterance into chat, task, or dev.
type ModeSelector struct {
	runner *stage.Runner
}

// NewModeSelector creates the stage.
func NewModeSelector(runner *stage.Runner) *ModeSelector {
	return &ModeSelector{runner: runner}
}

// Select classifies the utterance. Never fails: parser and stage failures
// degrade to the keyword probe.
func (s *ModeSelector) Select(ctx context.Context, utt models.Utterance) models.ModeDecision {
	outcome := s.runner.Run(ctx, stage.Request{
		StageID:    stage.StageModeSelect,
		PromptID:   prompt.PromptModeSelect,
		Vars:       map[string]string{"message": utt.Text, "recent": strings.Join(utt.Recent, "\n")},
		JSONObject: true,
	})

	if outcome.Usable() {
		if decision, ok := decodeModeDecision(outcome.Object); ok {
			if outcome.Status == stage.StatusFallback {
				decision.Fallback = true
				if decision.Confidence > 0.6 {
					decision.Confidence = 0.6
				}
			}
			return decision
		}
	}

	return KeywordProbe(utt.Text)
}

// decodeModeDecision validates the parsed object: mode must normalize to a
// known value and confidence must be numeric.
func decodeModeDecision(obj map[string]any) (models.ModeDecision, bool) {
	rawMode, _ := obj["mode"].(string)
	mode, ok := modeSynonyms[strings.ToLower(strings.TrimSpace(rawMode))]
	if !ok {
		return models.ModeDecision{}, false
	}

	confidence, ok := asFloat(obj["confidence"])
	if !ok || confidence < 0 || confidence > 1 {
		return models.ModeDecision{}, false
	}

	reasoning, _ := obj["reasoning"].(string)
	return models.ModeDecision{Mode: mode, Confidence: confidence, Reasoning: reasoning}, true
}

// KeywordProbe is the deterministic total-failure fallback: dev markers win,
// then multilingual action verbs, then chat at half confidence.
func KeywordProbe(text string) models.ModeDecision {
	switch {
	case i18n.Matches(text, i18n.IntentDev) || i18n.Matches(text, i18n.IntentIntervention):
		return models.ModeDecision{Mode: models.ModeDev, Confidence: 0.8, Fallback: true}
	case i18n.Matches(text, i18n.IntentAction):
		return models.ModeDecision{Mode: models.ModeTask, Confidence: 0.7, Fallback: true}
	default:
		return models.ModeDecision{Mode: models.ModeChat, Confidence: 0.5, Fallback: true}
	}
}

// asFloat coerces JSON numbers (and numeric strings models sometimes emit).
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return 0, false
		}
		var f float64
		n, err := parseFloat(trimmed)
		if err != nil {
			return 0, false
		}
		f = n
		return f, true
	default:
		return 0, false
	}
}
