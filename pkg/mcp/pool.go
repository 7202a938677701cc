package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/version"
)

// Invoker is the tool-invocation surface consumed by the executor and the
// verifier's data path. Implemented by ServerPool; stubbed in tests.
type Invoker interface {
	// Servers enumerates known server names.
	Servers() []string
	// Has reports whether a server name is known.
	Has(server string) bool
	// ToolNames lists the qualified tool identifiers one server exposes.
	ToolNames(ctx context.Context, server string) ([]string, error)
	// Invoke runs one tool call and returns its structured result. Transport
	// and logical failures are both reflected in the ToolResult, never as a
	// Go error — callers decide how failures affect the retry budget.
	Invoke(ctx context.Context, call models.ToolCall) models.ToolResult
}

// ServerPool owns one connection per configured MCP server. Each connection
// carries its own lifecycle state; the pool only routes qualified tool
// identifiers to the right connection and picks per-call deadlines from the
// call kind. Safe for parallel use across sessions.
type ServerPool struct {
	registry *config.MCPServerRegistry

	mu    sync.RWMutex
	conns map[string]*serverConn

	logger *slog.Logger
}

// NewServerPool creates a pool over the configured server registry.
func NewServerPool(registry *config.MCPServerRegistry) *ServerPool {
	return &ServerPool{
		registry: registry,
		conns:    make(map[string]*serverConn),
		logger:   slog.Default(),
	}
}

// Connect dials every configured server. Dial failures are recorded on the
// connection and retried lazily on first use; partial connectivity is fine.
func (p *ServerPool) Connect(ctx context.Context) {
	for _, id := range p.registry.Names() {
		conn := p.conn(id)
		if err := conn.ensure(ctx); err != nil {
			p.logger.Warn("MCP server failed to connect",
				"server", id, "error", err)
		}
	}
}

// Servers enumerates the configured server names.
func (p *ServerPool) Servers() []string {
	return p.registry.Names()
}

// Has reports whether the server is configured.
func (p *ServerPool) Has(server string) bool {
	return p.registry.Has(server)
}

// ToolNames returns the qualified identifiers of all tools on a server.
func (p *ServerPool) ToolNames(ctx context.Context, server string) ([]string, error) {
	if !p.Has(server) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	tools, err := p.conn(server).listTools(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, Qualify(server, t.Name))
	}
	return names, nil
}

// Invoke resolves the call's qualified identifier, derives the deadline from
// the call kind, and runs it on the owning connection. Session faults get
// one redial-and-retry; every failure lands in the ToolResult.
func (p *ServerPool) Invoke(ctx context.Context, call models.ToolCall) models.ToolResult {
	qualified, err := AutoQualify(call.Tool, call.Server)
	if err != nil {
		return failedResult(call.Tool, err)
	}
	server, tool, err := SplitQualified(qualified)
	if err != nil {
		return failedResult(qualified, err)
	}
	if !p.Has(server) {
		return failedResult(qualified, fmt.Errorf("%w: %s", ErrUnknownServer, server))
	}

	result, err := p.conn(server).call(ctx, tool, call.Parameters, callTimeout(call))
	if err != nil {
		return failedResult(qualified, err)
	}

	return models.ToolResult{
		Success:   !result.IsError,
		Tool:      qualified,
		Data:      textContent(result),
		Error:     errorTextIfAny(result),
		Timestamp: time.Now(),
	}
}

// FailedServers returns servers whose last dial attempt failed, with the
// error message. Used by the health endpoint.
func (p *ServerPool) FailedServers() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	failed := make(map[string]string)
	for id, conn := range p.conns {
		if msg := conn.dialError(); msg != "" {
			failed[id] = msg
		}
	}
	return failed
}

// Close shuts down every connection.
func (p *ServerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, conn := range p.conns {
		if err := conn.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %q: %w", id, err)
		}
	}
	p.conns = make(map[string]*serverConn)
	return firstErr
}

// conn returns the connection for a server, creating it on first use.
func (p *ServerPool) conn(server string) *serverConn {
	p.mu.RLock()
	conn, ok := p.conns[server]
	p.mu.RUnlock()
	if ok {
		return conn
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.conns[server]; ok {
		return conn
	}
	conn = &serverConn{id: server, registry: p.registry, logger: p.logger}
	p.conns[server] = conn
	return conn
}

// callTimeout derives the per-call deadline from the call kind: the planner's
// long-running flag wins, and recognizably heavy tool names (builds, media
// encoding) get the same allowance even when the flag was forgotten.
func callTimeout(call models.ToolCall) time.Duration {
	if call.IsLongRunning || i18n.Matches(call.Tool, i18n.IntentLongRunning) {
		return LongRunningCallTimeout
	}
	return DefaultCallTimeout
}

// serverConn is the lifecycle state of one MCP server connection: the live
// session, the tool cache, and the last dial error. The connection's mutex
// serializes dials and redials; tool calls run outside it.
type serverConn struct {
	id       string
	registry *config.MCPServerRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	session *mcpsdk.ClientSession
	tools   []*mcpsdk.Tool
	dialErr string
}

// ensure dials the server if no session is live. Serialized per connection,
// so concurrent callers never race a handshake.
func (c *serverConn) ensure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(ctx)
}

func (c *serverConn) ensureLocked(ctx context.Context) error {
	if c.session != nil {
		return nil
	}

	serverCfg, err := c.registry.Get(c.id)
	if err != nil {
		c.dialErr = err.Error()
		return err
	}
	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		c.dialErr = err.Error()
		return fmt.Errorf("transport for %q: %w", c.id, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(dialCtx, transport, nil)
	if err != nil {
		// Close the transport if it implements io.Closer so a failed
		// handshake doesn't leak a stdio child process.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		c.dialErr = err.Error()
		return fmt.Errorf("connect to %q: %w", c.id, err)
	}

	c.session = session
	c.dialErr = ""
	c.logger.Info("MCP server connected", "server", c.id)
	return nil
}

// call runs one tool with the given deadline. A session fault triggers a
// jittered backoff, a redial, and a single retry.
func (c *serverConn) call(ctx context.Context, tool string, args map[string]any, timeout time.Duration) (*mcpsdk.CallToolResult, error) {
	result, err := c.callOnce(ctx, tool, args, timeout)
	if err == nil {
		return result, nil
	}

	fault := classifyFault(c.id, err)
	if !fault.Recoverable() {
		return nil, fault
	}

	c.logger.Info("MCP session fault, redialling",
		"server", c.id, "tool", tool, "error", err)

	backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, classifyFault(c.id, ctx.Err())
	}

	if err := c.redial(ctx); err != nil {
		return nil, fmt.Errorf("redial %q: %w", c.id, err)
	}

	result, err = c.callOnce(ctx, tool, args, timeout)
	if err != nil {
		return nil, classifyFault(c.id, err)
	}
	return result, nil
}

// callOnce performs a single attempt, dialling lazily when needed.
func (c *serverConn) callOnce(ctx context.Context, tool string, args map[string]any, timeout time.Duration) (*mcpsdk.CallToolResult, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
}

// listTools returns the server's tools, cached after the first fetch.
func (c *serverConn) listTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	c.mu.Lock()
	if c.tools != nil {
		tools := c.tools
		c.mu.Unlock()
		return tools, nil
	}
	c.mu.Unlock()

	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", c.id, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

// redial drops the broken session and tool cache, then dials again under a
// recovery deadline. The connection mutex makes concurrent redials collapse
// into one.
func (c *serverConn) redial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	c.tools = nil

	dialCtx, cancel := context.WithTimeout(ctx, redialTimeout)
	defer cancel()
	return c.ensureLocked(dialCtx)
}

// dialError returns the last dial failure, "" when connected or never tried.
func (c *serverConn) dialError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialErr
}

// close shuts the session down.
func (c *serverConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.tools = nil
	return err
}

func failedResult(tool string, err error) models.ToolResult {
	return models.ToolResult{
		Success:   false,
		Tool:      tool,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}

// textContent concatenates TextContent items from an MCP result. Non-text
// content (images, embedded resources) is skipped.
func textContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// errorTextIfAny returns the text content as the error message when the
// server flagged the result as an error (MCP convention).
func errorTextIfAny(result *mcpsdk.CallToolResult) string {
	if !result.IsError {
		return ""
	}
	text := textContent(result)
	if text == "" {
		text = "tool reported an error"
	}
	return text
}
