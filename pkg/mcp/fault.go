package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// FaultKind classifies MCP operation failures, mirroring the typed-error
// scheme the LLM gateway uses. Only session faults warrant a redial.
type FaultKind string

const (
	// FaultCancelled — the caller's context ended; never retried.
	FaultCancelled FaultKind = "cancelled"
	// FaultTimeout — the per-call deadline elapsed; the server may just be
	// slow, so a blind retry is not safe.
	FaultTimeout FaultKind = "timeout"
	// FaultSession — the transport broke underneath the session; a redial
	// and one retry may recover.
	FaultSession FaultKind = "session"
	// FaultProtocol — the request itself was malformed per JSON-RPC; a
	// retry would fail identically.
	FaultProtocol FaultKind = "protocol"
	// FaultTool — any other failure reported by the server or SDK.
	FaultTool FaultKind = "tool"
)

// Fault is a classified MCP failure tied to the server it occurred on.
type Fault struct {
	Kind   FaultKind
	Server string
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("mcp %s %s: %v", f.Server, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Recoverable reports whether recreating the session and retrying once may
// succeed.
func (f *Fault) Recoverable() bool { return f.Kind == FaultSession }

// sessionErrTexts are transport breakages that only surface as error text.
var sessionErrTexts = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"use of closed",
	"no such host",
}

// classifyFault maps a raw SDK error onto a Fault for the given server.
func classifyFault(server string, err error) *Fault {
	if err == nil {
		return nil
	}

	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}

	if errors.Is(err, context.Canceled) {
		return &Fault{Kind: FaultCancelled, Server: server, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Fault{Kind: FaultTimeout, Server: server, Err: err}
	}

	// JSON-RPC wire errors: the four request-shape codes are protocol
	// faults, everything else is the tool's own failure.
	var wireErr *jsonrpc.Error
	if errors.As(err, &wireErr) {
		switch wireErr.Code {
		case jsonrpc.CodeParseError,
			jsonrpc.CodeInvalidRequest,
			jsonrpc.CodeMethodNotFound,
			jsonrpc.CodeInvalidParams:
			return &Fault{Kind: FaultProtocol, Server: server, Err: err}
		default:
			return &Fault{Kind: FaultTool, Server: server, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Fault{Kind: FaultTimeout, Server: server, Err: err}
		}
		return &Fault{Kind: FaultSession, Server: server, Err: err}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return &Fault{Kind: FaultSession, Server: server, Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, text := range sessionErrTexts {
		if strings.Contains(msg, text) {
			return &Fault{Kind: FaultSession, Server: server, Err: err}
		}
	}

	return &Fault{Kind: FaultTool, Server: server, Err: err}
}

// Deadlines for pool operations.
const (
	// dialTimeout bounds the transport handshake for a fresh connection.
	dialTimeout = 30 * time.Second

	// redialTimeout bounds session recreation during fault recovery; it is
	// tighter than dialTimeout because the caller is already mid-request.
	redialTimeout = 10 * time.Second

	// DefaultCallTimeout is the per-call deadline for ordinary tools.
	DefaultCallTimeout = 90 * time.Second

	// LongRunningCallTimeout is the per-call deadline for calls flagged (or
	// recognizably named) as builds, encodes, or large generations.
	LongRunningCallTimeout = 10 * time.Minute

	// Jittered backoff window between a session fault and the retry.
	retryBackoffMin = 250 * time.Millisecond
	retryBackoffMax = 750 * time.Millisecond
)
