package selfanalysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// codeChange is one proposed edit from the intervention stage.
type codeChange struct {
	File        string `json:"file"`
	Description string `json:"description"`
	Content     string `json:"content,omitempty"`
}

// buildInterventionPlan converts findings into a task-mode plan: one item
// per proposed code change, plus a final restart step that depends on every
// change item.
func (a *Analyzer) buildInterventionPlan(ctx context.Context, findings []Finding) (*models.TodoList, error) {
	findingsJSON, _ := json.Marshal(findingsToMaps(findings))

	outcome := a.runner.Run(ctx, stage.Request{
		StageID:    stage.StageIntervention,
		PromptID:   prompt.PromptIntervention,
		Vars:       map[string]string{"findings": string(findingsJSON)},
		JSONObject: true,
	})
	if outcome.Status != stage.StatusOk {
		return nil, fmt.Errorf("intervention stage failed: %s %s", outcome.Kind, outcome.Detail)
	}

	raw, _ := outcome.Object["changes"].([]any)
	data, _ := json.Marshal(raw)
	var changes []codeChange
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("decoding changes: %w", err)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("intervention produced no changes")
	}

	maxAttempts := a.cfg.MaxAttempts()
	list := &models.TodoList{}
	var changeIDs []string

	for i, change := range changes {
		item := models.NewTodoItem(models.RootID(i),
			fmt.Sprintf("apply code change to %s: %s", change.File, change.Description),
			maxAttempts)
		item.SuccessCriteria = "file " + change.File + " contains the applied change"
		item.SuggestedServers = []string{"filesystem"}
		item.Parameters = map[string]any{
			"path":    change.File,
			"content": change.Content,
		}
		list.Items = append(list.Items, item)
		changeIDs = append(changeIDs, item.ID)
	}

	// Final restart step depends on every change item.
	restart := models.NewTodoItem(models.RootID(len(changes)),
		"restart the orchestrator process", maxAttempts)
	restart.SuccessCriteria = "process restarted and healthy"
	restart.SuggestedServers = []string{"shell"}
	restart.Dependencies = changeIDs
	list.Items = append(list.Items, restart)

	return list, nil
}
