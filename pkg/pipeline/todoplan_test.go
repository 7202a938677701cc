package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agents/atlas/pkg/models"
)

func TestTodoPlanner_AssignsStableIDsAndDependencies(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Build a to-do plan", `{
		"items": [
			{"action": "download the archive", "success_criteria": "file exists", "suggested_servers": ["shell"]},
			{"action": "unpack the archive", "suggested_servers": ["shell"], "dependencies": ["1"]},
			{"action": "open the result folder", "suggested_servers": ["filesystem"], "dependencies": ["b"]}
		]
	}`)
	planner := NewTodoPlanner(newTestRunner(t, caller), 3)

	list, err := planner.Plan(context.Background(), models.EnrichedRequest{Enriched: "do the thing"}, []string{"shell", "filesystem"})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)

	assert.Equal(t, "a", list.Items[0].ID)
	assert.Equal(t, "b", list.Items[1].ID)
	assert.Equal(t, "c", list.Items[2].ID)
	// Ordinal ("1") and id ("b") references both resolve to assigned ids.
	assert.Equal(t, []string{"a"}, list.Items[1].Dependencies)
	assert.Equal(t, []string{"b"}, list.Items[2].Dependencies)
	// Default retry budget applied.
	assert.Equal(t, 3, list.Items[0].MaxAttempts)
	assert.Equal(t, models.ItemStatusPending, list.Items[0].Status)
}

func TestTodoPlanner_EmptyPlanFails(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Build a to-do plan", `{"items": []}`)
	planner := NewTodoPlanner(newTestRunner(t, caller), 3)

	_, err := planner.Plan(context.Background(), models.EnrichedRequest{Enriched: "x"}, nil)
	assert.Error(t, err)
}

func TestContextEnricher(t *testing.T) {
	t.Run("valid complexity", func(t *testing.T) {
		caller := newScriptedCaller()
		caller.on("Rewrite and enrich",
			`{"enriched": "create /tmp/a then verify", "implicit_requirements": ["needs write access"], "estimated_complexity": 4}`)
		enricher := NewContextEnricher(newTestRunner(t, caller))

		enriched := enricher.Enrich(context.Background(), "create /tmp/a")
		assert.False(t, enriched.Fallback)
		assert.Equal(t, 4, enriched.EstimatedComplexity)
		assert.Equal(t, "create /tmp/a", enriched.Original)
		assert.Equal(t, []string{"needs write access"}, enriched.ImplicitRequirements)
	})

	t.Run("complexity out of range falls back", func(t *testing.T) {
		caller := newScriptedCaller()
		caller.on("Rewrite and enrich", `{"enriched": "x", "estimated_complexity": 42}`)
		enricher := NewContextEnricher(newTestRunner(t, caller))

		enriched := enricher.Enrich(context.Background(), "original text")
		assert.True(t, enriched.Fallback)
		assert.Equal(t, "original text", enriched.Enriched)
	})
}
