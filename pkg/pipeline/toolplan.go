package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/atlas-agents/atlas/pkg/mcp"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// ErrEmptyPlan is returned when the model produced a plan with no calls.
var ErrEmptyPlan = errors.New("tool plan has no calls")

// ToolPlanner is Stage 2.1: expand an item into concrete tool calls given
// the selected servers and their per-server prompt specializations.
type ToolPlanner struct {
	runner  *stage.Runner
	invoker mcp.Invoker
}

// NewToolPlanner creates the stage.
func NewToolPlanner(runner *stage.Runner, invoker mcp.Invoker) *ToolPlanner {
	return &ToolPlanner{runner: runner, invoker: invoker}
}

// Plan builds the tool-call plan. Every call must reference a selected
// server; unknown servers or tools fail the stage so the planner can
// regenerate the item.
func (p *ToolPlanner) Plan(ctx context.Context, item *models.TodoItem, selection models.ServerSelection) (models.ToolPlan, error) {
	tools, err := p.describeTools(ctx, selection.SelectedServers)
	if err != nil {
		return models.ToolPlan{}, err
	}

	promptID := p.promptFor(selection)
	paramsJSON, _ := json.Marshal(item.Parameters)

	outcome := p.runner.Run(ctx, stage.Request{
		StageID:  stage.StageToolPlan,
		PromptID: promptID,
		Vars: map[string]string{
			"servers":    strings.Join(selection.SelectedServers, ", "),
			"tools":      tools,
			"action":     item.Action,
			"parameters": string(paramsJSON),
		},
		JSONObject: true,
	})
	if outcome.Status != stage.StatusOk {
		return models.ToolPlan{}, fmt.Errorf("tool planning failed: %s %s", outcome.Kind, outcome.Detail)
	}

	return p.decodePlan(outcome.Object, selection)
}

// decodePlan validates and qualifies every call.
func (p *ToolPlanner) decodePlan(obj map[string]any, selection models.ServerSelection) (models.ToolPlan, error) {
	rawCalls := asObjectSlice(obj["calls"])
	if len(rawCalls) == 0 {
		return models.ToolPlan{}, ErrEmptyPlan
	}

	defaultServer := ""
	if len(selection.SelectedServers) == 1 {
		defaultServer = selection.SelectedServers[0]
	}

	plan := models.ToolPlan{Calls: make([]models.ToolCall, 0, len(rawCalls))}
	for i, raw := range rawCalls {
		server := asString(raw["server"])
		if server == "" {
			server = defaultServer
		}

		qualified, err := mcp.AutoQualify(asString(raw["tool"]), server)
		if err != nil {
			return models.ToolPlan{}, fmt.Errorf("call %d: %w", i, err)
		}
		qualifiedServer, _, err := mcp.SplitQualified(qualified)
		if err != nil {
			return models.ToolPlan{}, fmt.Errorf("call %d: %w", i, err)
		}
		if !slices.Contains(selection.SelectedServers, qualifiedServer) {
			return models.ToolPlan{}, fmt.Errorf("call %d: %w: %s not in selection",
				i, mcp.ErrUnknownServer, qualifiedServer)
		}

		longRunning, _ := asBool(raw["is_long_running"])
		plan.Calls = append(plan.Calls, models.ToolCall{
			Server:        qualifiedServer,
			Tool:          qualified,
			Parameters:    asObject(raw["parameters"]),
			IsLongRunning: longRunning,
		})
	}
	return plan, nil
}

// describeTools renders the available tool list for the prompt.
func (p *ToolPlanner) describeTools(ctx context.Context, servers []string) (string, error) {
	var b strings.Builder
	for _, server := range servers {
		names, err := p.invoker.ToolNames(ctx, server)
		if err != nil {
			return "", fmt.Errorf("listing tools for %s: %w", server, err)
		}
		for _, name := range names {
			b.WriteString(name)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// promptFor picks the first assigned per-server prompt; the selector always
// populates at least the generic fallback.
func (p *ToolPlanner) promptFor(selection models.ServerSelection) string {
	if len(selection.SelectedPrompts) > 0 {
		return selection.SelectedPrompts[0]
	}
	return "TOOL_PLAN"
}
