package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/mcp"
	"github.com/atlas-agents/atlas/pkg/models"
)

// Inter-call delays by call kind in step-by-step mode.
const (
	delayLongRunning = 5000 * time.Millisecond
	delayAppLaunch   = 2000 * time.Millisecond
	delayWebNavigate = 1500 * time.Millisecond
	delayWebOther    = 800 * time.Millisecond
	delayFilesystem  = 200 * time.Millisecond
	delayDefault     = 500 * time.Millisecond
)

// webServers are servers whose tools count as web automation.
var webServers = map[string]bool{"browser": true, "playwright": true}

// ToolExecutor is Stage 2.2: decide parallel vs sequential dispatch, apply
// inter-tool delays, honour long-running hints, and aggregate a run report.
type ToolExecutor struct {
	invoker mcp.Invoker

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewToolExecutor creates the stage.
func NewToolExecutor(invoker mcp.Invoker) *ToolExecutor {
	return &ToolExecutor{invoker: invoker, sleep: sleepCtx}
}

// Execute runs the plan for the item's current attempt and records the
// report. Tool failures never abort the pipeline; they are reflected in the
// report and charged against the item's retry budget by the verifier loop.
func (e *ToolExecutor) Execute(ctx context.Context, item *models.TodoItem, plan models.ToolPlan) models.ExecutionReport {
	mode := e.DecideMode(item, plan)
	started := time.Now()

	var report models.ExecutionReport
	switch mode {
	case models.ExecutionModeParallel:
		report = e.runParallel(ctx, plan)
	case models.ExecutionModeStepByStep:
		report = e.runSequential(ctx, plan, true)
	default:
		report = e.runSequential(ctx, plan, false)
	}

	report.Mode = mode
	report.ExecutionTimeMS = time.Since(started).Milliseconds()
	for _, r := range report.Results {
		if r.Success {
			report.SuccessfulCount++
		} else {
			report.FailedCount++
		}
	}
	report.AllSuccessful = report.FailedCount == 0 && len(report.Results) == len(plan.Calls)
	return report
}

// DecideMode picks the dispatch mode:
//   - step-by-step when the plan is fragile: more than three web-automation
//     calls, search/scrape vocabulary, a retry attempt, or more than two
//     distinct servers;
//   - parallel when calls are independent: no write-then-read path overlap
//     and no stateful navigation or working-directory change;
//   - sequential batch otherwise.
func (e *ToolExecutor) DecideMode(item *models.TodoItem, plan models.ToolPlan) models.ExecutionMode {
	webCalls := 0
	servers := map[string]bool{}
	for _, call := range plan.Calls {
		if webServers[call.Server] {
			webCalls++
		}
		servers[call.Server] = true
	}

	switch {
	case webCalls > 3,
		i18n.Matches(item.Action, i18n.IntentSearch),
		item.Attempt > 1,
		len(servers) > 2:
		return models.ExecutionModeStepByStep
	}

	if e.independent(plan) {
		return models.ExecutionModeParallel
	}
	return models.ExecutionModeSequential
}

// independent reports whether all calls can run concurrently: no call writes
// a path a later call reads, and no call implies stateful browser navigation
// or a working-directory change.
func (e *ToolExecutor) independent(plan models.ToolPlan) bool {
	written := map[string]bool{}
	for _, call := range plan.Calls {
		if isNavigation(call) || changesWorkingDir(call) {
			return false
		}
		for _, p := range pathParams(call) {
			if written[p] {
				// A path touched by an earlier call: ordering matters.
				return false
			}
			if writesPath(call) {
				written[p] = true
			}
		}
	}
	return true
}

// runParallel dispatches all calls concurrently. Results preserve plan index.
func (e *ToolExecutor) runParallel(ctx context.Context, plan models.ToolPlan) models.ExecutionReport {
	results := make([]models.ToolResult, len(plan.Calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range plan.Calls {
		g.Go(func() error {
			results[i] = e.invoker.Invoke(gctx, call)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in results

	report := models.ExecutionReport{Results: results, StoppedAtIndex: -1}
	if ctx.Err() != nil {
		report.StoppedReason = "cancelled"
	}
	return report
}

// runSequential executes calls in order. In step-by-step mode execution
// stops at the first failure and a kind-derived delay separates successful
// calls.
func (e *ToolExecutor) runSequential(ctx context.Context, plan models.ToolPlan, stepByStep bool) models.ExecutionReport {
	report := models.ExecutionReport{StoppedAtIndex: -1}

	for i, call := range plan.Calls {
		if err := ctx.Err(); err != nil {
			report.StoppedAtIndex = i
			report.StoppedReason = "cancelled"
			return report
		}

		result := e.invoker.Invoke(ctx, call)
		report.Results = append(report.Results, result)

		if ctx.Err() != nil {
			report.StoppedAtIndex = i
			report.StoppedReason = "cancelled"
			return report
		}

		if stepByStep {
			if !result.Success {
				report.StoppedAtIndex = i
				report.StoppedReason = "tool_failure"
				return report
			}
			if i < len(plan.Calls)-1 {
				if err := e.sleep(ctx, delayFor(call)); err != nil {
					report.StoppedAtIndex = i + 1
					report.StoppedReason = "cancelled"
					return report
				}
			}
		}
	}
	return report
}

// delayFor derives the inter-call delay from the call kind.
func delayFor(call models.ToolCall) time.Duration {
	switch {
	case call.IsLongRunning || i18n.Matches(call.Tool, i18n.IntentLongRunning):
		return delayLongRunning
	case call.Server == "applescript" && isAppLaunch(call):
		return delayAppLaunch
	case isNavigation(call):
		return delayWebNavigate
	case webServers[call.Server]:
		return delayWebOther
	case call.Server == "filesystem" || call.Server == "shell":
		return delayFilesystem
	default:
		return delayDefault
	}
}

func isNavigation(call models.ToolCall) bool {
	return webServers[call.Server] && strings.Contains(call.Tool, "navigate")
}

func isAppLaunch(call models.ToolCall) bool {
	return strings.Contains(call.Tool, "launch") || strings.Contains(call.Tool, "activate") ||
		strings.Contains(call.Tool, "open_app")
}

func changesWorkingDir(call models.ToolCall) bool {
	if call.Server != "shell" {
		return false
	}
	if strings.Contains(call.Tool, "chdir") || strings.Contains(call.Tool, "change_directory") {
		return true
	}
	if cmd, ok := call.Parameters["command"].(string); ok {
		trimmed := strings.TrimSpace(cmd)
		return strings.HasPrefix(trimmed, "cd ") || strings.Contains(trimmed, "&& cd ") ||
			strings.Contains(trimmed, "; cd ")
	}
	return false
}

// writesPath reports whether the call's tool name implies mutation.
func writesPath(call models.ToolCall) bool {
	for _, verb := range []string{"write", "create", "move", "copy", "delete", "append", "edit", "remove"} {
		if strings.Contains(call.Tool, verb) {
			return true
		}
	}
	return false
}

// pathParams collects path-like parameter values.
func pathParams(call models.ToolCall) []string {
	var out []string
	for _, key := range []string{"path", "file", "source", "destination", "directory"} {
		if v, ok := call.Parameters[key].(string); ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
