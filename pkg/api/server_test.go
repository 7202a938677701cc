package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/events"
	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/llm"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/pipeline"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/session"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// chatCaller answers every gateway call with a fixed chat classification or
// reply, which keeps the execute endpoint on the shortest pipeline path.
type chatCaller struct{}

func (chatCaller) Call(_ context.Context, req llm.Request) (*llm.Response, error) {
	if strings.Contains(req.User, "Classify") {
		return &llm.Response{Text: `{"mode": "chat", "confidence": 0.9}`, Model: "stub"}, nil
	}
	return &llm.Response{Text: "hello there", Model: "stub"}, nil
}

// emptyInvoker is an MCP surface with no servers.
type emptyInvoker struct{}

func (emptyInvoker) Servers() []string                                   { return nil }
func (emptyInvoker) Has(string) bool                                     { return false }
func (emptyInvoker) ToolNames(context.Context, string) ([]string, error) { return nil, nil }
func (emptyInvoker) Invoke(_ context.Context, call models.ToolCall) models.ToolResult {
	return models.ToolResult{Success: false, Tool: call.Tool, Error: "no servers", Timestamp: time.Now()}
}

func newTestServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	prompts, err := prompt.NewStore(t.TempDir())
	require.NoError(t, err)
	schemas, err := stage.NewSchemaSet()
	require.NoError(t, err)

	caller := chatCaller{}
	modelReg := llm.NewRegistry(cfg.StageModels, nil)
	runner := stage.NewRunner(prompts, caller, modelReg, schemas)
	locale := i18n.NewLocale("uk")
	invoker := emptyInvoker{}

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Config:   cfg,
		Locale:   locale,
		Gateway:  caller,
		ModelReg: modelReg,
		Runner:   runner,
		Prompts:  prompts,
		Invoker:  invoker,
		Verifier: pipeline.NewVerifier(nil, nil, invoker, locale),
	})

	sessions := session.NewStore()
	connManager := events.NewConnectionManager(time.Second)
	return NewServer(cfg, orchestrator, sessions, connManager), sessions
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
}

func TestExecuteHandler_ValidatesBody(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute",
		strings.NewReader(`{"userMessage": ""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteHandler_ChatRoundTrip(t *testing.T) {
	server, sessions := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute",
		strings.NewReader(`{"userMessage": "Привіт"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, models.ModeChat, resp.Mode)
	assert.NotEmpty(t, resp.SessionID)

	// A follow-up reusing the session id lands in the same session.
	body := `{"userMessage": "ще раз привіт", "sessionId": "` + resp.SessionID + `"}`
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	server.echo.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	sess, err := sessions.Get(resp.SessionID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(sess.Thread), 4)
	assert.Equal(t, 1, sessions.Len())
}
