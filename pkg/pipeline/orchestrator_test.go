package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agents/atlas/pkg/llm"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/session"
)

func newTestOrchestrator(t *testing.T, caller *scriptedCaller, invoker *stubInvoker, analyzer DevAnalyzer) *Orchestrator {
	t.Helper()
	cfg := testConfig(t)
	runner := newTestRunner(t, caller)
	verifier := NewVerifier(nil, nil, invoker, testLocale())
	return NewOrchestrator(Deps{
		Config:   cfg,
		Locale:   testLocale(),
		Gateway:  caller,
		ModelReg: llmRegistry(t),
		Runner:   runner,
		Prompts:  newTestPrompts(t),
		Invoker:  invoker,
		Verifier: verifier,
		Analyzer: analyzer,
	})
}

func llmRegistry(t *testing.T) *llm.Registry {
	t.Helper()
	cfg := testConfig(t)
	return llm.NewRegistry(cfg.StageModels, nil)
}

func TestExecute_ChatScenario(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Classify", `{"mode": "chat", "confidence": 0.95, "reasoning": "greeting"}`)
	caller.on("helpful assistant", `Привіт! Чим можу допомогти?`)

	invoker := newStubInvoker("filesystem")
	o := newTestOrchestrator(t, caller, invoker, nil)

	sess := session.NewStore().Create()
	result := o.Execute(context.Background(), Input{UserMessage: "Привіт", Session: sess})

	assert.True(t, result.Success)
	assert.Equal(t, models.ModeChat, result.Mode)
	assert.Equal(t, "Привіт! Чим можу допомогти?", result.ResultText)
	// No pipeline stages beyond mode selection + the reply ran.
	assert.Len(t, caller.calls, 2)
	assert.Empty(t, invoker.recorded())
	// The thread recorded both turns.
	assert.Len(t, sess.Thread, 2)
}

func TestExecute_CreateFolderScenario(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Classify", `{"mode": "task", "confidence": 0.97}`)
	caller.on("Rewrite and enrich",
		`{"enriched": "створи папку /tmp/demo", "implicit_requirements": [], "estimated_complexity": 2}`)
	caller.on("Build a to-do plan",
		`{"items": [{"action": "створи папку /tmp/demo", "success_criteria": "папка /tmp/demo існує", "suggested_servers": ["filesystem"]}]}`)
	caller.on("Plan tool calls",
		`{"calls": [{"server": "filesystem", "tool": "filesystem__create_directory", "parameters": {"path": "/tmp/demo"}}]}`)
	caller.on("Is visual verification possible",
		`{"visual_possible": false, "confidence": 90, "reason": "filesystem state is authoritative", "recommended_path": "data"}`)
	caller.on("Summarize the outcome",
		`{"summary": "Папку /tmp/demo створено", "tts_phrase": "Готово"}`)

	invoker := newStubInvoker("filesystem", "shell")
	invoker.respond = func(call models.ToolCall) models.ToolResult {
		return models.ToolResult{Success: true, Tool: call.Tool, Data: "type: directory, exists", Timestamp: time.Now()}
	}
	o := newTestOrchestrator(t, caller, invoker, nil)

	sess := session.NewStore().Create()
	result := o.Execute(context.Background(), Input{UserMessage: "Створи папку /tmp/demo", Session: sess})

	require.True(t, result.Success)
	assert.Equal(t, models.ModeTask, result.Mode)
	require.NotNil(t, result.Plan)
	require.Len(t, result.Plan.Items, 1)

	item := result.Plan.Items[0]
	assert.Equal(t, models.ItemStatusCompleted, item.Status)
	assert.Equal(t, []string{"filesystem"}, item.MCPServers)
	require.NotNil(t, item.Verification)
	assert.True(t, item.Verification.Verified)
	assert.GreaterOrEqual(t, item.Verification.Confidence, 85.0)
	assert.Equal(t, models.NextActionContinue, item.Verification.NextAction)

	// Execution ran the create, verification ran the data probe.
	calls := invoker.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "filesystem__create_directory", calls[0].Tool)
	assert.Equal(t, "/tmp/demo", calls[0].Parameters["path"])
	assert.Equal(t, "filesystem__get_file_info", calls[1].Tool)

	assert.Equal(t, "Папку /tmp/demo створено", result.Summary)
	assert.Equal(t, "Готово", result.TTSPhrase)
}

func TestExecute_ThreeServerSplitScenario(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Classify", `{"mode": "task", "confidence": 0.9}`)
	caller.on("Rewrite and enrich",
		`{"enriched": "файл, команда і сторінка в браузері", "estimated_complexity": 6}`)
	caller.on("Build a to-do plan",
		`{"items": [{"action": "скопіюй файл, запусти команду і відкрий сторінку в браузері", "success_criteria": "", "suggested_servers": ["filesystem", "shell", "browser"]}]}`)
	// Tool plans are keyed by the rendered server list so each split half
	// gets a plan against its own servers.
	caller.on("only servers filesystem, shell",
		`{"calls": [{"server": "filesystem", "tool": "filesystem__copy_file", "parameters": {"source": "/a", "destination": "/b"}}]}`)
	caller.on("only servers browser",
		`{"calls": [{"server": "browser", "tool": "browser__navigate", "parameters": {"url": "https://example.com"}}]}`)
	caller.on("Is visual verification possible",
		`{"visual_possible": false, "confidence": 85, "reason": "data checks suffice", "recommended_path": "data"}`)
	caller.on("Summarize the outcome", `{"summary": "done", "tts_phrase": "done"}`)

	invoker := newStubInvoker("filesystem", "shell", "browser")
	invoker.respond = func(call models.ToolCall) models.ToolResult {
		return models.ToolResult{Success: true, Tool: call.Tool, Data: "exists ok", Timestamp: time.Now()}
	}
	o := newTestOrchestrator(t, caller, invoker, nil)

	sess := session.NewStore().Create()
	result := o.Execute(context.Background(), Input{UserMessage: "зроби все одразу", Session: sess})

	require.NotNil(t, result.Plan)
	// The oversized item was split into two, both of which completed.
	require.Len(t, result.Plan.Items, 2)
	assert.Equal(t, "a.a", result.Plan.Items[0].ID)
	assert.Equal(t, "a.b", result.Plan.Items[1].ID)
	assert.Equal(t, []string{"filesystem", "shell"}, result.Plan.Items[0].SuggestedServers)
	assert.Equal(t, []string{"browser"}, result.Plan.Items[1].SuggestedServers)
	for _, item := range result.Plan.Items {
		assert.Equal(t, models.ItemStatusCompleted, item.Status, "item %s", item.ID)
	}
	assert.True(t, result.Success)
}

func TestExecute_PlanningFailureReturnsReadableSummary(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Classify", `{"mode": "task", "confidence": 0.9}`)
	caller.on("Rewrite and enrich", `{"enriched": "x", "estimated_complexity": 1}`)
	caller.on("Build a to-do plan", `{"items": []}`)

	o := newTestOrchestrator(t, caller, newStubInvoker("filesystem"), nil)

	sess := session.NewStore().Create()
	result := o.Execute(context.Background(), Input{UserMessage: "зроби щось", Session: sess})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Summary)
}

// fakeAnalyzer scripts dev-mode outcomes.
type fakeAnalyzer struct {
	outcome *DevOutcome
	err     error
}

func (f *fakeAnalyzer) Analyze(context.Context, *session.Session, models.Utterance) (*DevOutcome, error) {
	return f.outcome, f.err
}

func TestExecute_DevModeAuthRequired(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Classify", `{"mode": "dev", "confidence": 0.9}`)

	analyzer := &fakeAnalyzer{outcome: &DevOutcome{
		Analysis:     map[string]any{"findings": []any{}},
		AuthRequired: true,
	}}
	o := newTestOrchestrator(t, caller, newStubInvoker("filesystem"), analyzer)

	sess := session.NewStore().Create()
	result := o.Execute(context.Background(), Input{UserMessage: "виправ себе", Password: "wrong", Session: sess})

	assert.True(t, result.Success) // dev mode still narrates
	assert.Equal(t, models.ModeDev, result.Mode)
	assert.Equal(t, true, result.Analysis["auth_required"])
	assert.Nil(t, result.Plan)
}

func TestExecute_DevModeInterventionRunsPlan(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Classify", `{"mode": "dev", "confidence": 0.95}`)
	caller.on("Plan tool calls",
		`{"calls": [{"server": "filesystem", "tool": "filesystem__write_file", "parameters": {"path": "pkg/broken.go"}}]}`)
	caller.on("Is visual verification possible",
		`{"visual_possible": false, "confidence": 90, "reason": "data", "recommended_path": "data"}`)
	caller.on("Summarize the outcome", `{"summary": "інтервенцію завершено", "tts_phrase": "готово"}`)

	plan := &models.TodoList{Items: []*models.TodoItem{
		func() *models.TodoItem {
			item := models.NewTodoItem("a", "apply code change to file pkg/broken.go", 3)
			item.SuggestedServers = []string{"filesystem"}
			return item
		}(),
	}}
	analyzer := &fakeAnalyzer{outcome: &DevOutcome{
		Analysis: map[string]any{"findings": []any{map[string]any{"title": "bug"}}},
		Plan:     plan,
	}}

	invoker := newStubInvoker("filesystem", "shell")
	invoker.respond = func(call models.ToolCall) models.ToolResult {
		return models.ToolResult{Success: true, Tool: call.Tool, Data: "exists applied", Timestamp: time.Now()}
	}
	o := newTestOrchestrator(t, caller, invoker, analyzer)

	sess := session.NewStore().Create()
	result := o.Execute(context.Background(), Input{UserMessage: "виправ себе", Password: "mykola", Session: sess})

	require.NotNil(t, result.Plan)
	assert.Equal(t, models.ItemStatusCompleted, result.Plan.Items[0].Status)
	// The intervention lock is released when the run finishes.
	assert.False(t, sess.InterventionActive)
	assert.Equal(t, "інтервенцію завершено", result.Summary)
}

func TestExecute_CancellationPropagates(t *testing.T) {
	caller := newScriptedCaller()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(t, caller, newStubInvoker("filesystem"), nil)
	sess := session.NewStore().Create()

	// The mode selector degrades to the keyword probe on cancelled gateway
	// calls; an action verb routes to task, which then stops immediately.
	result := o.Execute(ctx, Input{UserMessage: "створи файл тест", Session: sess})
	require.NotNil(t, result)
	assert.False(t, result.Success)
}

func TestExecute_RecentThreadIsBounded(t *testing.T) {
	caller := newScriptedCaller()
	caller.on("Classify", `{"mode": "chat", "confidence": 0.9}`)
	caller.on("helpful assistant", "ok")

	o := newTestOrchestrator(t, caller, newStubInvoker(), nil)
	sess := session.NewStore().Create()

	for range 12 {
		o.Execute(context.Background(), Input{UserMessage: "привіт ще раз", Session: sess})
	}
	assert.LessOrEqual(t, len(sess.Thread), session.MaxThreadMessages)
}

func TestSummarizeReportMentionsFailures(t *testing.T) {
	report := models.ExecutionReport{
		SuccessfulCount: 1,
		Results: []models.ToolResult{
			{Success: true, Tool: "filesystem__read_file"},
			{Success: false, Tool: "shell__run_command", Error: "exit 1"},
		},
		Mode: models.ExecutionModeSequential,
	}
	text := summarizeReport(report)
	assert.True(t, strings.Contains(text, "shell__run_command"))
	assert.True(t, strings.Contains(text, "exit 1"))
}
