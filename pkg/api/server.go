// Package api provides the HTTP surface: the execute endpoint, the health
// endpoint, and the WebSocket upgrade for the UI event stream.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/events"
	"github.com/atlas-agents/atlas/pkg/pipeline"
	"github.com/atlas-agents/atlas/pkg/session"
	"github.com/atlas-agents/atlas/pkg/version"
)

// FailedServerReporter exposes the MCP servers whose last dial failed.
// Implemented by mcp.ServerPool; nil-able for deployments without MCP.
type FailedServerReporter interface {
	FailedServers() map[string]string
}

// Server is the HTTP API server.
type Server struct {
	echo         *echo.Echo
	httpServer   *http.Server
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	sessions     *session.Store
	connManager  *events.ConnectionManager
	mcpReporter  FailedServerReporter // nil if MCP disabled
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	cfg *config.Config,
	orchestrator *pipeline.Orchestrator,
	sessions *session.Store,
	connManager *events.ConnectionManager,
) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		cfg:          cfg,
		orchestrator: orchestrator,
		sessions:     sessions,
		connManager:  connManager,
	}

	s.setupRoutes()
	return s
}

// SetMCPReporter sets the MCP failure reporter for the health endpoint.
func (s *Server) SetMCPReporter(r FailedServerReporter) {
	s.mcpReporter = r
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Body limit sits comfortably above MaxMessageSize plus envelope overhead.
	s.echo.Use(middleware.BodyLimit(256 * 1024))

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/execute", s.executeHandler)
	v1.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	stats := s.cfg.Stats()
	response := &HealthResponse{
		Status:      "healthy",
		Version:     version.Full(),
		Sessions:    s.sessions.Len(),
		Connections: s.connManager.ConnectionCount(),
		Configuration: ConfigurationStats{
			Stages:     stats.Stages,
			MCPServers: stats.MCPServers,
		},
	}

	if s.mcpReporter != nil {
		if failed := s.mcpReporter.FailedServers(); len(failed) > 0 {
			response.Status = "degraded"
			response.MCPFailed = failed
		}
	}

	return c.JSON(http.StatusOK, response)
}

// executeHandler handles POST /api/v1/execute: the single runtime entry into
// the orchestrator.
func (s *Server) executeHandler(c *echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &ErrorResponse{Error: "invalid request body"})
	}
	if req.UserMessage == "" {
		return c.JSON(http.StatusBadRequest, &ErrorResponse{Error: "userMessage is required"})
	}
	if len(req.UserMessage) > MaxMessageSize {
		return c.JSON(http.StatusRequestEntityTooLarge, &ErrorResponse{Error: "userMessage too large"})
	}

	sess := s.sessions.GetOrCreate(req.SessionID)

	// The pipeline inherits the request deadline; long tasks are expected,
	// so the HTTP layer only adds a generous ceiling.
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Minute)
	defer cancel()

	result := s.orchestrator.Execute(ctx, pipeline.Input{
		UserMessage: req.UserMessage,
		Session:     sess,
		Password:    req.Password,
		TTSSettings: req.TTSSettings,
		Container:   req.Container,
	})

	return c.JSON(http.StatusOK, &ExecuteResponse{SessionID: sess.ID, Result: result})
}
