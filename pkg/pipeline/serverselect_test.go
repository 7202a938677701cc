package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agents/atlas/pkg/models"
)

func newSelector(t *testing.T, caller *scriptedCaller, servers ...string) *ServerSelector {
	t.Helper()
	return NewServerSelector(newTestRunner(t, caller), newStubInvoker(servers...), newTestPrompts(t))
}

func TestServerSelector_AdoptsPlannerSelection(t *testing.T) {
	selector := newSelector(t, newScriptedCaller(), "filesystem", "shell")

	item := models.NewTodoItem("a", "створи папку", 3)
	item.SuggestedServers = []string{"filesystem"}

	sel := selector.Select(context.Background(), item)
	assert.Equal(t, []string{"filesystem"}, sel.SelectedServers)
	assert.GreaterOrEqual(t, sel.Confidence, 0.95)
	assert.False(t, sel.NeedsSplit)
	assert.Equal(t, []string{"TOOL_PLAN"}, sel.SelectedPrompts)
}

func TestServerSelector_PlannerSelectionWithUnknownServerGoesToLLM(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Choose at most two servers", `{"selected_servers": ["shell"], "confidence": 0.7, "reasoning": "shell work"}`)
	selector := newSelector(t, caller, "filesystem", "shell")

	item := models.NewTodoItem("a", "run the script", 3)
	item.SuggestedServers = []string{"nonexistent"}

	sel := selector.Select(context.Background(), item)
	assert.Equal(t, []string{"shell"}, sel.SelectedServers)
	assert.InDelta(t, 0.7, sel.Confidence, 0.001)
}

func TestServerSelector_ThreeServersNeedsSplit(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Choose at most two servers",
		`{"selected_servers": ["filesystem", "shell", "browser"], "confidence": 0.9}`)
	selector := newSelector(t, caller, "filesystem", "shell", "browser")

	item := models.NewTodoItem("a", "a complicated multi-surface request", 3)

	sel := selector.Select(context.Background(), item)
	require.True(t, sel.NeedsSplit)
	assert.Len(t, sel.SelectedServers, 3)
	assert.Equal(t, []string{"filesystem", "shell"}, sel.SuggestedPartition[0])
	assert.Equal(t, []string{"browser"}, sel.SuggestedPartition[1])
}

func TestServerSelector_PlannerOversizedSelectionAlsoSplits(t *testing.T) {
	selector := newSelector(t, newScriptedCaller(), "filesystem", "shell", "browser")

	item := models.NewTodoItem("a", "everything at once", 3)
	item.SuggestedServers = []string{"filesystem", "shell", "browser"}

	sel := selector.Select(context.Background(), item)
	assert.True(t, sel.NeedsSplit)
}

func TestServerSelector_KeywordFallback(t *testing.T) {
	// The scripted caller returns "{}" by default, which fails selection
	// decoding, so the keyword path kicks in.
	selector := newSelector(t, newScriptedCaller(), "filesystem", "shell", "browser")

	item := models.NewTodoItem("a", "відкрий сторінку у браузері", 3)
	sel := selector.Select(context.Background(), item)
	assert.Equal(t, []string{"browser"}, sel.SelectedServers)
	assert.Less(t, sel.Confidence, 0.5)
}

func TestServerSelector_SelectionInvariant(t *testing.T) {
	// Property: 1 ≤ |selected_servers| ≤ 2 or needs_split.
	caller := newScriptedCaller()
	caller.on("Choose at most two servers",
		`{"selected_servers": ["filesystem", "shell", "browser", "memory"], "confidence": 1.0}`)
	selector := newSelector(t, caller, "filesystem", "shell", "browser", "memory")

	sel := selector.Select(context.Background(), models.NewTodoItem("a", "huge job", 3))
	ok := (len(sel.SelectedServers) >= 1 && len(sel.SelectedServers) <= 2) || sel.NeedsSplit
	assert.True(t, ok)
}
