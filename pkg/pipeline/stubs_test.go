package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/llm"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// scriptedCaller routes gateway calls to responders keyed by a substring of
// the rendered user prompt. Unmatched calls return the default response.
type scriptedCaller struct {
	mu         sync.Mutex
	responders map[string]func(req llm.Request) (*llm.Response, error)
	fallback   func(req llm.Request) (*llm.Response, error)
	calls      []llm.Request
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{
		responders: make(map[string]func(req llm.Request) (*llm.Response, error)),
		fallback: func(llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "{}", Model: "stub"}, nil
		},
	}
}

// on registers a responder for calls whose user prompt contains the marker.
func (s *scriptedCaller) on(marker string, text string) {
	s.responders[marker] = func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text, Model: "stub"}, nil
	}
}

func (s *scriptedCaller) Call(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	for marker, respond := range s.responders {
		if strings.Contains(req.User, marker) || strings.Contains(req.System, marker) {
			return respond(req)
		}
	}
	return s.fallback(req)
}

// stubInvoker is an in-memory MCP surface.
type stubInvoker struct {
	mu      sync.Mutex
	servers []string
	tools   map[string][]string
	respond func(call models.ToolCall) models.ToolResult
	calls   []models.ToolCall
}

func newStubInvoker(servers ...string) *stubInvoker {
	inv := &stubInvoker{
		servers: servers,
		tools:   make(map[string][]string),
	}
	inv.respond = func(call models.ToolCall) models.ToolResult {
		return models.ToolResult{Success: true, Tool: call.Tool, Timestamp: time.Now(), Data: "ok"}
	}
	return inv
}

func (s *stubInvoker) Servers() []string { return s.servers }

func (s *stubInvoker) Has(server string) bool {
	for _, name := range s.servers {
		if name == server {
			return true
		}
	}
	return false
}

func (s *stubInvoker) ToolNames(_ context.Context, server string) ([]string, error) {
	return s.tools[server], nil
}

func (s *stubInvoker) Invoke(_ context.Context, call models.ToolCall) models.ToolResult {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return s.respond(call)
}

func (s *stubInvoker) recorded() []models.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ToolCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// newTestRunner builds a stage runner over built-in prompts and the caller.
func newTestRunner(t *testing.T, caller stage.Caller) *stage.Runner {
	t.Helper()
	prompts, err := prompt.NewStore(t.TempDir())
	require.NoError(t, err)
	schemas, err := stage.NewSchemaSet()
	require.NoError(t, err)
	modelReg := llm.NewRegistry(config.NewStageModelRegistry(nil, &config.StageModelConfig{
		Model: "test-model",
	}), nil)
	return stage.NewRunner(prompts, caller, modelReg, schemas)
}

func newTestPrompts(t *testing.T) *prompt.Store {
	t.Helper()
	prompts, err := prompt.NewStore(t.TempDir())
	require.NoError(t, err)
	return prompts
}

func testLocale() *i18n.Locale { return i18n.NewLocale("uk") }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	return cfg
}
