package config

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// CaptureMode selects what a screenshot attempt captures.
type CaptureMode string

const (
	// CaptureModeActiveWindow captures only the focused window.
	CaptureModeActiveWindow CaptureMode = "active_window"
	// CaptureModeFullScreen captures the whole screen.
	CaptureModeFullScreen CaptureMode = "full_screen"
	// CaptureModeDesktopOnly captures the desktop without overlays.
	CaptureModeDesktopOnly CaptureMode = "desktop_only"
)

// IsValid checks if the capture mode is valid
func (m CaptureMode) IsValid() bool {
	return m == CaptureModeActiveWindow || m == CaptureModeFullScreen || m == CaptureModeDesktopOnly
}
