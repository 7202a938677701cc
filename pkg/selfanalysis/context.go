package selfanalysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-agents/atlas/pkg/models"
)

// logTailLines is how much of each log the analyzer reads.
const logTailLines = 50

// Default log locations relative to the process working directory. The
// filesystem MCP server resolves them within its sandbox root.
var logPaths = models.LogTails{
	Error:        "logs/error.log",
	Orchestrator: "logs/orchestrator.log",
	Frontend:     "logs/frontend.log",
	Metrics:      "logs/metrics.log",
}

// gatherContext assembles the analysis context through the filesystem MCP
// server. When the server is unavailable the returned context is flagged as
// a fallback rather than failing dev mode.
func (a *Analyzer) gatherContext(ctx context.Context) models.AnalysisContext {
	out := models.AnalysisContext{Timestamp: time.Now()}

	if !a.invoker.Has("filesystem") {
		out.Fallback = true
		return out
	}

	out.Logs = models.LogTails{
		Error:        a.readTail(ctx, logPaths.Error),
		Orchestrator: a.readTail(ctx, logPaths.Orchestrator),
		Frontend:     a.readTail(ctx, logPaths.Frontend),
		Metrics:      a.readTail(ctx, logPaths.Metrics),
	}
	out.MemoryUsage = a.readTail(ctx, "/proc/self/status")
	out.Uptime = a.readTail(ctx, "/proc/uptime")

	if out.Logs == (models.LogTails{}) && out.MemoryUsage == "" {
		// Every probe failed: the server is up but can't see our state.
		out.Fallback = true
	}
	return out
}

// readTail reads the last lines of a file via the filesystem server.
// Failures return "" — a missing log is not an analysis failure.
func (a *Analyzer) readTail(ctx context.Context, path string) string {
	result := a.invoker.Invoke(ctx, models.ToolCall{
		Server: "filesystem",
		Tool:   "filesystem__read_text_file",
		Parameters: map[string]any{
			"path": path,
			"tail": logTailLines,
		},
	})
	if !result.Success {
		return ""
	}
	text, _ := result.Data.(string)
	return text
}

// renderContext serializes the context for the analysis prompt.
func renderContext(c models.AnalysisContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "timestamp: %s\n", c.Timestamp.Format(time.RFC3339))
	if c.Fallback {
		b.WriteString("context: fallback (filesystem server unavailable)\n")
	}
	writeSection(&b, "error log", c.Logs.Error)
	writeSection(&b, "orchestrator log", c.Logs.Orchestrator)
	writeSection(&b, "frontend log", c.Logs.Frontend)
	writeSection(&b, "metrics", c.Logs.Metrics)
	writeSection(&b, "memory", c.MemoryUsage)
	writeSection(&b, "uptime", c.Uptime)
	return b.String()
}

func writeSection(b *strings.Builder, title, body string) {
	if body == "" {
		return
	}
	fmt.Fprintf(b, "--- %s ---\n%s\n", title, body)
}
