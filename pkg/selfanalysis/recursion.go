package selfanalysis

import (
	"context"

	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// HardDepthCap is the absolute recursion bound regardless of configuration.
const HardDepthCap = 5

// buildHierarchy turns findings into the hierarchical TODO and runs the
// depth-limited recursive deepening loop. The depth limit is enforced at the
// loop; a visited set keyed by canonical signature prevents mutually
// triggering findings from recursing forever.
func (a *Analyzer) buildHierarchy(ctx context.Context, findings []Finding) *models.TodoList {
	maxDepth := a.cfg.Analysis.MaxDepth
	if maxDepth <= 0 || maxDepth > HardDepthCap {
		maxDepth = HardDepthCap
	}

	list := &models.TodoList{}
	visited := make(map[string]bool, len(findings))

	for i, finding := range findings {
		item := models.NewTodoItem(models.RootID(i), "investigate: "+finding.Title, a.cfg.MaxAttempts())
		item.SuccessCriteria = finding.Details
		list.Items = append(list.Items, item)

		a.deepen(ctx, item, finding, 1, maxDepth, visited)
	}
	return list
}

// deepen expands one item when its finding crosses the configured
// thresholds, then recurses into the generated sub-items.
func (a *Analyzer) deepen(ctx context.Context, item *models.TodoItem, finding Finding, depth, maxDepth int, visited map[string]bool) {
	if depth >= maxDepth {
		return
	}
	sig := finding.Signature()
	if visited[sig] {
		return
	}
	visited[sig] = true

	if !a.needsDeepening(finding) {
		return
	}

	subFindings := a.expandFinding(ctx, finding)
	for _, sub := range subFindings {
		child := item.AddSubItem("investigate: "+sub.Title, a.cfg.MaxAttempts())
		child.SuccessCriteria = sub.Details
		a.deepen(ctx, child, sub, depth+1, maxDepth, visited)
	}
}

// needsDeepening checks the finding against the configured thresholds:
// high error rate, high complexity, or critical severity warrant another
// level of analysis.
func (a *Analyzer) needsDeepening(finding Finding) bool {
	t := a.cfg.Thresholds
	switch {
	case finding.Severity == "critical":
		return true
	case finding.ErrorRate > 0 && finding.ErrorRate > t.ErrorRate:
		return true
	case finding.Complexity > 0 && finding.Complexity > t.CodeComplexity:
		return true
	default:
		return false
	}
}

// expandFinding asks the deepen stage for sub-checks of one finding.
// Failures simply stop the descent — recursion never propagates errors.
func (a *Analyzer) expandFinding(ctx context.Context, finding Finding) []Finding {
	outcome := a.runner.Run(ctx, stage.Request{
		StageID:  stage.StageDeepen,
		PromptID: prompt.PromptProblemDeepen,
		Vars: map[string]string{
			"finding": finding.Title + ": " + finding.Details,
		},
		JSONObject: true,
	})
	if outcome.Status != stage.StatusOk {
		return nil
	}

	raw, ok := outcome.Object["sub_items"].([]any)
	if !ok {
		return nil
	}
	var subs []Finding
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m["action"].(string)
		if title == "" {
			continue
		}
		details, _ := m["success_criteria"].(string)
		subs = append(subs, Finding{
			Title:    title,
			Severity: finding.Severity,
			File:     finding.File,
			Details:  details,
			// Sub-findings inherit the parent's metrics so deepening
			// continues down a hot path until the depth cap.
			ErrorRate:  finding.ErrorRate,
			Complexity: finding.Complexity,
		})
	}
	return subs
}
