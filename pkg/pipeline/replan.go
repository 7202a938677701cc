package pipeline

import (
	"fmt"
	"strings"

	"github.com/atlas-agents/atlas/pkg/models"
)

// Replanner is Stage 3.6: turn a failed item plus its verification into
// replacement items that re-enter Stage 2.0.
type Replanner struct {
	maxAttempts int
}

// NewReplanner creates the stage.
func NewReplanner(maxAttempts int) *Replanner {
	return &Replanner{maxAttempts: maxAttempts}
}

// Replan emits replacement items for an item the verifier marked adjust.
// An empty result means the item is abandoned.
func (r *Replanner) Replan(item *models.TodoItem, verification *models.Verification) []*models.TodoItem {
	strategy := models.StrategySplitItem
	if verification != nil && verification.Strategy != "" {
		strategy = verification.Strategy
	}

	switch strategy {
	case models.StrategyInsertPrerequisite:
		return r.insertPrerequisite(item)
	case models.StrategyModifyParameters:
		return r.modifyParameters(item)
	case models.StrategySwapTools:
		return r.swapTools(item)
	case models.StrategyRelaxCriteria:
		return r.relaxCriteria(item)
	case models.StrategyRetryAsIs:
		return r.retryAsIs(item)
	case models.StrategyAbandon:
		return nil
	default:
		return r.splitItem(item)
	}
}

// SplitForServers turns a needs_split selection into two items covering the
// partition, the second depending on the first.
func (r *Replanner) SplitForServers(item *models.TodoItem, selection models.ServerSelection) []*models.TodoItem {
	first := r.derived(item, 0, item.Action)
	first.SuggestedServers = selection.SuggestedPartition[0]

	second := r.derived(item, 1, item.Action)
	second.SuggestedServers = selection.SuggestedPartition[1]
	second.Dependencies = []string{first.ID}

	return []*models.TodoItem{first, second}
}

// splitItem halves the action into a do-step and a confirm-step. Without a
// better seam the split keeps the same action but narrows each half's server
// set, which is the common cause of oversized items.
func (r *Replanner) splitItem(item *models.TodoItem) []*models.TodoItem {
	servers := item.SuggestedServers
	if len(item.MCPServers) > 0 {
		servers = item.MCPServers
	}

	if len(servers) >= 2 {
		first := r.derived(item, 0, item.Action)
		first.SuggestedServers = servers[:1]
		second := r.derived(item, 1, item.Action)
		second.SuggestedServers = servers[1:]
		second.Dependencies = []string{first.ID}
		return []*models.TodoItem{first, second}
	}

	// Single-server item: split into act + verify sub-steps.
	first := r.derived(item, 0, item.Action)
	first.SuggestedServers = servers
	second := r.derived(item, 1, TransformActionToVerification(item.Action))
	second.SuggestedServers = servers
	second.SuccessCriteria = item.SuccessCriteria
	second.Dependencies = []string{first.ID}
	return []*models.TodoItem{first, second}
}

// insertPrerequisite prepends a preparation step the original depends on.
func (r *Replanner) insertPrerequisite(item *models.TodoItem) []*models.TodoItem {
	prereq := r.derived(item, 0, "prepare prerequisites for: "+item.Action)
	prereq.SuggestedServers = item.SuggestedServers

	retry := r.derived(item, 1, item.Action)
	retry.SuggestedServers = item.SuggestedServers
	retry.SuccessCriteria = item.SuccessCriteria
	retry.Parameters = item.Parameters
	retry.Dependencies = []string{prereq.ID}
	return []*models.TodoItem{prereq, retry}
}

// modifyParameters retries the item with its parameters cleared so the tool
// planner derives them fresh from the action text.
func (r *Replanner) modifyParameters(item *models.TodoItem) []*models.TodoItem {
	retry := r.derived(item, 0, item.Action)
	retry.SuggestedServers = item.SuggestedServers
	retry.SuccessCriteria = item.SuccessCriteria
	return []*models.TodoItem{retry}
}

// swapTools drops the persisted server selection, forcing re-selection.
func (r *Replanner) swapTools(item *models.TodoItem) []*models.TodoItem {
	retry := r.derived(item, 0, item.Action)
	retry.SuccessCriteria = item.SuccessCriteria
	retry.Parameters = item.Parameters
	// No suggested servers: Stage 2.0 must pick a different route.
	return []*models.TodoItem{retry}
}

// relaxCriteria keeps the action but weakens the success bar to observable
// completion of the tool calls.
func (r *Replanner) relaxCriteria(item *models.TodoItem) []*models.TodoItem {
	retry := r.derived(item, 0, item.Action)
	retry.SuggestedServers = item.SuggestedServers
	retry.Parameters = item.Parameters
	retry.SuccessCriteria = "tool calls complete without errors"
	return []*models.TodoItem{retry}
}

// retryAsIs re-queues an identical copy with a fresh attempt budget.
func (r *Replanner) retryAsIs(item *models.TodoItem) []*models.TodoItem {
	retry := r.derived(item, 0, item.Action)
	retry.SuggestedServers = item.SuggestedServers
	retry.SuccessCriteria = item.SuccessCriteria
	retry.Parameters = item.Parameters
	retry.MCPServers = item.MCPServers
	return []*models.TodoItem{retry}
}

// derived builds a replacement item with a hierarchical child id, so
// replacement ids never collide with surviving plan ids.
func (r *Replanner) derived(item *models.TodoItem, ordinal int, action string) *models.TodoItem {
	id := models.ChildID(item.ID, ordinal)
	replacement := models.NewTodoItem(id, action, r.maxAttempts)
	// Carry the original's external dependencies so DAG ordering holds.
	replacement.Dependencies = append(replacement.Dependencies, item.Dependencies...)
	return replacement
}

// RetargetDependents rewrites dependencies that pointed at a replaced item
// to point at the final replacement, keeping the DAG closed.
func RetargetDependents(list *models.TodoList, oldID string, replacements []*models.TodoItem) {
	if len(replacements) == 0 {
		return
	}
	lastID := replacements[len(replacements)-1].ID
	for _, item := range list.Items {
		for i, dep := range item.Dependencies {
			if dep == oldID {
				item.Dependencies[i] = lastID
			}
		}
	}
}

// describeReplan renders a short log line for the replanning event.
func describeReplan(item *models.TodoItem, replacements []*models.TodoItem) string {
	if len(replacements) == 0 {
		return fmt.Sprintf("item %s abandoned", item.ID)
	}
	ids := make([]string, 0, len(replacements))
	for _, r := range replacements {
		ids = append(ids, r.ID)
	}
	return fmt.Sprintf("item %s replaced by %s", item.ID, strings.Join(ids, ", "))
}
