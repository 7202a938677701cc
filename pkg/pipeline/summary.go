package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// Summary is the user-facing run conclusion.
type Summary struct {
	Text      string `json:"summary"`
	TTSPhrase string `json:"tts_phrase"`
}

// FinalSummarizer is Stage 8: produce the user-facing summary and TTS phrase.
type FinalSummarizer struct {
	runner *stage.Runner
	locale *i18n.Locale
}

// NewFinalSummarizer creates the stage.
func NewFinalSummarizer(runner *stage.Runner, locale *i18n.Locale) *FinalSummarizer {
	return &FinalSummarizer{runner: runner, locale: locale}
}

// Summarize renders the outcome. LLM failures degrade to a localized
// counted summary so the UI always has something to narrate.
func (s *FinalSummarizer) Summarize(ctx context.Context, list *models.TodoList) Summary {
	itemsJSON, _ := json.Marshal(itemDigest(list))

	outcome := s.runner.Run(ctx, stage.Request{
		StageID:  stage.StageSummary,
		PromptID: prompt.PromptFinalSummary,
		Vars: map[string]string{
			"language": s.locale.Language(),
			"items":    string(itemsJSON),
		},
		JSONObject: true,
	})

	if outcome.Status == stage.StatusOk {
		text := asString(outcome.Object["summary"])
		if text != "" {
			tts := asString(outcome.Object["tts_phrase"])
			if tts == "" {
				tts = s.fallbackPhrase(list)
			}
			return Summary{Text: text, TTSPhrase: tts}
		}
	}

	return s.fallbackSummary(list)
}

// fallbackSummary is the deterministic localized summary.
func (s *FinalSummarizer) fallbackSummary(list *models.TodoList) Summary {
	completed, total := completionCounts(list)
	phrase := s.fallbackPhrase(list)
	return Summary{
		Text:      fmt.Sprintf("%s (%d/%d)", phrase, completed, total),
		TTSPhrase: phrase,
	}
}

func (s *FinalSummarizer) fallbackPhrase(list *models.TodoList) string {
	completed, total := completionCounts(list)
	switch {
	case total > 0 && completed == total:
		return s.locale.Phrase("task_done")
	case completed > 0:
		return s.locale.Phrase("task_partial")
	default:
		return s.locale.Phrase("task_failed")
	}
}

func completionCounts(list *models.TodoList) (completed, total int) {
	for _, item := range list.Items {
		total++
		if item.Status == models.ItemStatusCompleted {
			completed++
		}
	}
	return completed, total
}

// itemDigest projects the plan into the compact shape the summary prompt
// consumes.
func itemDigest(list *models.TodoList) []map[string]any {
	out := make([]map[string]any, 0, len(list.Items))
	for _, item := range list.Items {
		entry := map[string]any{
			"id":     item.ID,
			"action": item.Action,
			"status": string(item.Status),
		}
		if item.Verification != nil {
			entry["verified"] = item.Verification.Verified
		}
		out = append(out, entry)
	}
	return out
}
