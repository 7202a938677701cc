package pipeline

import (
	"context"
	"strings"

	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/mcp"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// MaxServersPerItem is the hard cap: more servers means the item must split.
const MaxServersPerItem = 2

// ServerSelector is Stage 2.0: choose at most two MCP servers for one item,
// or signal needs_split with a suggested partition.
type ServerSelector struct {
	runner  *stage.Runner
	invoker mcp.Invoker
	prompts *prompt.Store
}

// NewServerSelector creates the stage.
func NewServerSelector(runner *stage.Runner, invoker mcp.Invoker, prompts *prompt.Store) *ServerSelector {
	return &ServerSelector{runner: runner, invoker: invoker, prompts: prompts}
}

// Select picks servers for the item. A planner-provided selection of known
// servers within the cap is adopted verbatim; the LLM is only consulted
// otherwise. Three or more servers always yield needs_split with a binary
// partition rather than silent trimming.
func (s *ServerSelector) Select(ctx context.Context, item *models.TodoItem) models.ServerSelection {
	// Rule 1: trust an explicit planner selection when every name is known.
	for _, planned := range [][]string{item.MCPServers, item.SuggestedServers} {
		if len(planned) == 0 || !s.allKnown(planned) {
			continue
		}
		if len(planned) > MaxServersPerItem {
			return s.splitSelection(planned, "planner selected more than two servers")
		}
		return models.ServerSelection{
			SelectedServers: planned,
			SelectedPrompts: s.promptsFor(planned),
			Reasoning:       "adopted planner selection",
			Confidence:      0.95,
		}
	}

	// Rule 2: ask the LLM.
	outcome := s.runner.Run(ctx, stage.Request{
		StageID:  stage.StageServerSelect,
		PromptID: prompt.PromptServerSelect,
		Vars: map[string]string{
			"servers":  strings.Join(s.invoker.Servers(), ", "),
			"action":   item.Action,
			"criteria": item.SuccessCriteria,
		},
		JSONObject: true,
	})

	if outcome.Usable() {
		if sel, ok := s.decodeSelection(outcome); ok {
			return sel
		}
	}

	// Keyword fallback: derive the server from action vocabulary cues.
	return s.keywordFallback(item)
}

func (s *ServerSelector) decodeSelection(outcome stage.Outcome) (models.ServerSelection, bool) {
	raw := asStringSlice(outcome.Object["selected_servers"])
	var known []string
	for _, name := range raw {
		if s.invoker.Has(name) {
			known = append(known, name)
		}
	}
	if len(known) == 0 {
		return models.ServerSelection{}, false
	}

	if len(known) > MaxServersPerItem {
		return s.splitSelection(known, "model selected more than two servers"), true
	}

	confidence, ok := asFloat(outcome.Object["confidence"])
	if !ok {
		confidence = 0.6
	}
	if outcome.Status == stage.StatusFallback && confidence > 0.5 {
		confidence = 0.5
	}

	return models.ServerSelection{
		SelectedServers: known,
		SelectedPrompts: s.promptsFor(known),
		Reasoning:       asString(outcome.Object["reasoning"]),
		Confidence:      confidence,
	}, true
}

// splitSelection builds the needs_split signal with a binary partition of
// the oversized server set.
func (s *ServerSelector) splitSelection(servers []string, reason string) models.ServerSelection {
	half := (len(servers) + 1) / 2
	return models.ServerSelection{
		SelectedServers: servers,
		Reasoning:       reason,
		Confidence:      0.9,
		NeedsSplit:      true,
		SuggestedPartition: [2][]string{
			append([]string(nil), servers[:half]...),
			append([]string(nil), servers[half:]...),
		},
	}
}

// cueServerOrder maps action vocabulary cues onto conventional server names,
// probed in priority order.
var cueServerOrder = []struct {
	intent i18n.Intent
	server string
}{
	{i18n.IntentFileCue, "filesystem"},
	{i18n.IntentBrowserCue, "browser"},
	{i18n.IntentAppCue, "applescript"},
	{i18n.IntentSystemCue, "shell"},
}

// keywordFallback maps action cues onto configured servers. The filesystem
// server is the last resort when nothing matches.
func (s *ServerSelector) keywordFallback(item *models.TodoItem) models.ServerSelection {
	var selected []string
	for _, cue := range cueServerOrder {
		if len(selected) == MaxServersPerItem {
			break
		}
		if i18n.Matches(item.Action, cue.intent) && s.invoker.Has(cue.server) {
			selected = append(selected, cue.server)
		}
	}
	if len(selected) == 0 && s.invoker.Has("filesystem") {
		selected = []string{"filesystem"}
	}

	return models.ServerSelection{
		SelectedServers: selected,
		SelectedPrompts: s.promptsFor(selected),
		Reasoning:       "keyword fallback from action cues",
		Confidence:      0.4,
	}
}

// promptsFor assigns tool-plan prompts by convention.
func (s *ServerSelector) promptsFor(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, server := range servers {
		out = append(out, s.prompts.ResolveToolPlanPrompt(server))
	}
	return out
}

func (s *ServerSelector) allKnown(servers []string) bool {
	for _, name := range servers {
		if !s.invoker.Has(name) {
			return false
		}
	}
	return true
}
