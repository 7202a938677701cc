package selfanalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/mcp"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/pipeline"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/session"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// Finding is one problem surfaced by the analysis stage.
type Finding struct {
	Title      string  `json:"title"`
	Severity   string  `json:"severity"`
	File       string  `json:"file,omitempty"`
	Details    string  `json:"details,omitempty"`
	ErrorRate  float64 `json:"error_rate,omitempty"`
	Complexity float64 `json:"complexity,omitempty"`
}

// Signature is the canonical identity of a finding, used by the recursion
// visited-set to break mutually-triggering loops.
func (f Finding) Signature() string {
	return i18n.Fold(strings.TrimSpace(f.Title)) + "|" + i18n.Fold(strings.TrimSpace(f.File))
}

// Analyzer is the dev-mode engine. Implements pipeline.DevAnalyzer.
type Analyzer struct {
	cfg     *config.Config
	runner  *stage.Runner
	invoker mcp.Invoker
	locale  *i18n.Locale
	logger  *slog.Logger
}

// NewAnalyzer wires the engine.
func NewAnalyzer(cfg *config.Config, runner *stage.Runner, invoker mcp.Invoker, locale *i18n.Locale) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		runner:  runner,
		invoker: invoker,
		locale:  locale,
		logger:  slog.Default(),
	}
}

// Analyze runs one self-analysis pass: gather context, analyze, build the
// hierarchical TODO with recursive deepening, queue problems on the session,
// persist to the memory server, and — behind the password gate — convert
// findings into an intervention plan.
func (a *Analyzer) Analyze(ctx context.Context, sess *session.Session, utt models.Utterance) (*pipeline.DevOutcome, error) {
	analysisCtx := a.gatherContext(ctx)
	sess.AnalysisContext = &analysisCtx

	findings, err := a.runAnalysis(ctx, analysisCtx)
	if err != nil {
		return nil, err
	}

	todo := a.buildHierarchy(ctx, findings)
	a.queueProblems(sess, findings)
	a.persistToMemory(ctx, findings)

	analysis := map[string]any{
		"findings":  findingsToMaps(findings),
		"todo":      todo,
		"fallback":  analysisCtx.Fallback,
		"timestamp": analysisCtx.Timestamp.Format(time.RFC3339),
	}

	outcome := &pipeline.DevOutcome{
		Analysis:  analysis,
		TTSPhrase: a.locale.Phrase("analysis_done"),
	}

	// Intervention path: requires both the explicit verb and the password.
	if i18n.Matches(utt.Text, i18n.IntentIntervention) {
		if !VerifyPassword(utt.Password, a.cfg.Intervention.Password) {
			a.logger.Warn("Intervention rejected: password mismatch",
				"session", sess.ID, "attempt", RedactAttempt(utt.Password))
			outcome.AuthRequired = true
			return outcome, nil
		}

		plan, err := a.buildInterventionPlan(ctx, findings)
		if err != nil {
			a.logger.Error("Intervention planning failed", "error", err)
			analysis["intervention_error"] = err.Error()
			return outcome, nil
		}
		a.persistInterventionContext(ctx, plan)
		outcome.Plan = plan
	}

	return outcome, nil
}

// runAnalysis executes the analysis stage over the gathered context.
func (a *Analyzer) runAnalysis(ctx context.Context, analysisCtx models.AnalysisContext) ([]Finding, error) {
	outcome := a.runner.Run(ctx, stage.Request{
		StageID:    stage.StageAnalysis,
		PromptID:   prompt.PromptSelfAnalysis,
		Vars:       map[string]string{"context": renderContext(analysisCtx)},
		JSONObject: true,
	})
	if outcome.Status == stage.StatusFail {
		return nil, fmt.Errorf("analysis stage failed: %s %s", outcome.Kind, outcome.Detail)
	}

	raw, ok := outcome.Object["findings"].([]any)
	if !ok {
		return nil, nil
	}
	var findings []Finding
	data, _ := json.Marshal(raw)
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, fmt.Errorf("decoding findings: %w", err)
	}
	return findings, nil
}

// queueProblems appends findings to the session's dev problems queue.
func (a *Analyzer) queueProblems(sess *session.Session, findings []Finding) {
	for _, f := range findings {
		sess.DevProblems = append(sess.DevProblems, session.Problem{
			Title:     f.Title,
			Severity:  f.Severity,
			File:      f.File,
			Details:   f.Details,
			Signature: f.Signature(),
			QueuedAt:  time.Now(),
		})
	}
}

// persistToMemory writes analysis entities to the memory MCP server when one
// is configured. Absence of the server is non-fatal.
func (a *Analyzer) persistToMemory(ctx context.Context, findings []Finding) {
	if !a.invoker.Has("memory") || len(findings) == 0 {
		return
	}
	entities := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		entities = append(entities, map[string]any{
			"name":       f.Title,
			"entityType": "dev_analysis",
			"observations": []string{
				"severity: " + f.Severity,
				"file: " + f.File,
				f.Details,
			},
		})
	}
	result := a.invoker.Invoke(ctx, models.ToolCall{
		Server:     "memory",
		Tool:       "memory__create_entities",
		Parameters: map[string]any{"entities": entities},
	})
	if !result.Success {
		a.logger.Warn("Failed to persist analysis to memory server", "error", result.Error)
	}
}

// persistInterventionContext records the intervention plan on the memory
// server so a restart can pick it back up.
func (a *Analyzer) persistInterventionContext(ctx context.Context, plan *models.TodoList) {
	if !a.invoker.Has("memory") {
		return
	}
	data, _ := json.Marshal(plan)
	result := a.invoker.Invoke(ctx, models.ToolCall{
		Server: "memory",
		Tool:   "memory__create_entities",
		Parameters: map[string]any{
			"entities": []map[string]any{{
				"name":         "intervention-" + time.Now().Format("20060102-150405"),
				"entityType":   "dev_intervention_context",
				"observations": []string{string(data)},
			}},
		},
	})
	if !result.Success {
		a.logger.Warn("Failed to persist intervention context", "error", result.Error)
	}
}

func findingsToMaps(findings []Finding) []map[string]any {
	out := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		out = append(out, map[string]any{
			"title":    f.Title,
			"severity": f.Severity,
			"file":     f.File,
			"details":  f.Details,
		})
	}
	return out
}
