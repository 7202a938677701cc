// Package mcp provides the MCP server registry: connection management for
// configured Model-Context-Protocol servers, qualified tool-name resolution,
// and tool invocation with recovery.
package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for tool resolution.
var (
	ErrUnknownServer = errors.New("unknown MCP server")
	ErrUnknownTool   = errors.New("unknown MCP tool identifier")
)

// qualifiedToolRegex validates the "server__tool" format: lowercase server
// name, double-underscore delimiter, lowercase alphanumeric tool name.
var qualifiedToolRegex = regexp.MustCompile(`^[a-z_]+__[a-z0-9_]+$`)

// Qualify joins a server and tool into the canonical identifier.
func Qualify(server, tool string) string {
	return server + "__" + tool
}

// SplitQualified splits "server__tool" into its parts. The delimiter is the
// first double underscore; tool names may themselves contain underscores.
func SplitQualified(name string) (server, tool string, err error) {
	if !qualifiedToolRegex.MatchString(name) {
		return "", "", fmt.Errorf("%w: %q is not in server__tool format", ErrUnknownTool, name)
	}
	idx := strings.Index(name, "__")
	return name[:idx], name[idx+2:], nil
}

// AutoQualify resolves a possibly-bare tool identifier against a server.
// A name already carrying the delimiter is returned as-is; a bare name is
// prefixed with the server; a bare name with no server is a hard error.
func AutoQualify(name, server string) (string, error) {
	if strings.Contains(name, "__") {
		return name, nil
	}
	if server == "" {
		return "", fmt.Errorf("%w: %q has no server prefix and no server given", ErrUnknownTool, name)
	}
	return Qualify(server, name), nil
}

// IsQualified reports whether the identifier matches the canonical grammar.
func IsQualified(name string) bool {
	return qualifiedToolRegex.MatchString(name)
}
