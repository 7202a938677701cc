package api

import (
	"log/slog"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /api/v1/ws: upgrades the connection and hands it to
// the connection manager, which blocks for the connection's lifetime.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The UI is served from a separate origin in development.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
