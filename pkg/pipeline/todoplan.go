package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// TodoPlanner is Stage 1: turn the enriched request into an ordered to-do
// list with stable hierarchical ids and a dependency DAG.
type TodoPlanner struct {
	runner      *stage.Runner
	maxAttempts int
}

// NewTodoPlanner creates the stage. maxAttempts is the per-item retry budget
// applied as the default.
func NewTodoPlanner(runner *stage.Runner, maxAttempts int) *TodoPlanner {
	return &TodoPlanner{runner: runner, maxAttempts: maxAttempts}
}

// Plan produces the to-do list. A plan whose dependency edges do not form a
// DAG is regenerated once; a second bad plan fails the stage.
func (p *TodoPlanner) Plan(ctx context.Context, enriched models.EnrichedRequest, servers []string) (*models.TodoList, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		list, err := p.planOnce(ctx, enriched, servers)
		if err == nil {
			return list, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *TodoPlanner) planOnce(ctx context.Context, enriched models.EnrichedRequest, servers []string) (*models.TodoList, error) {
	outcome := p.runner.Run(ctx, stage.Request{
		StageID:  stage.StageTodoPlan,
		PromptID: prompt.PromptTodoPlan,
		Vars: map[string]string{
			"enriched": enriched.Enriched,
			"servers":  strings.Join(servers, ", "),
		},
		JSONObject: true,
	})
	if outcome.Status != stage.StatusOk {
		return nil, fmt.Errorf("todo planning failed: %s %s", outcome.Kind, outcome.Detail)
	}

	rawItems := asObjectSlice(outcome.Object["items"])
	if len(rawItems) == 0 {
		return nil, fmt.Errorf("todo planning produced no items")
	}

	list := &models.TodoList{}
	// Planner items may reference each other by ordinal ("1", "2") or by the
	// id we are about to assign; map both onto the assigned ids.
	ordinalToID := make(map[string]string, len(rawItems))
	for i := range rawItems {
		ordinalToID[fmt.Sprintf("%d", i+1)] = models.RootID(i)
		ordinalToID[models.RootID(i)] = models.RootID(i)
	}

	for i, raw := range rawItems {
		item := models.NewTodoItem(models.RootID(i), strings.TrimSpace(asString(raw["action"])), p.maxAttempts)
		if item.Action == "" {
			return nil, fmt.Errorf("todo item %d has no action", i)
		}
		item.SuccessCriteria = asString(raw["success_criteria"])
		item.SuggestedServers = asStringSlice(raw["suggested_servers"])
		item.Parameters = asObject(raw["parameters"])
		for _, dep := range asStringSlice(raw["dependencies"]) {
			if mapped, ok := ordinalToID[strings.TrimSpace(dep)]; ok && mapped != item.ID {
				item.Dependencies = append(item.Dependencies, mapped)
			}
		}
		list.Items = append(list.Items, item)
	}

	if err := list.ValidateDAG(); err != nil {
		return nil, fmt.Errorf("todo plan dependencies invalid: %w", err)
	}
	return list, nil
}
