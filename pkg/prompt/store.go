// Package prompt provides the read-only prompt store: a mapping from prompt
// id to system text, user template, and JSON schema hint. Built-in prompts
// ship with the binary; a prompts.yaml in the config directory overrides or
// extends them.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrPromptNotFound is returned when a prompt id is unknown.
var ErrPromptNotFound = errors.New("prompt not found")

// PromptsFileName is the optional override file in the config directory.
const PromptsFileName = "prompts.yaml"

// Spec is one stored prompt.
type Spec struct {
	System       string `yaml:"system"`
	UserTemplate string `yaml:"user_template"`
	SchemaHint   string `yaml:"schema_hint,omitempty"`
}

// Store is the read-only prompt registry. Safe for parallel use.
type Store struct {
	prompts map[string]*Spec
	mu      sync.RWMutex
}

// NewStore builds a store from the built-in prompts merged with overrides
// loaded from configDir (file is optional).
func NewStore(configDir string) (*Store, error) {
	merged := make(map[string]*Spec, len(builtinPrompts))
	for id, spec := range builtinPrompts {
		merged[id] = spec
	}

	path := filepath.Join(configDir, PromptsFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var overrides map[string]*Spec
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for id, spec := range overrides {
			merged[id] = spec
		}
	case os.IsNotExist(err):
		// Built-ins only.
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return &Store{prompts: merged}, nil
}

// NewStoreFromSpecs builds a store directly from specs. Used by tests.
func NewStoreFromSpecs(specs map[string]*Spec) *Store {
	copied := make(map[string]*Spec, len(specs))
	for id, spec := range specs {
		copied[id] = spec
	}
	return &Store{prompts: copied}
}

// Get retrieves a prompt spec by id.
func (s *Store) Get(id string) (*Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.prompts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	return spec, nil
}

// Has checks if a prompt id exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.prompts[id]
	return ok
}

// Render resolves the prompt and substitutes {{name}} placeholders in the
// user template. Unknown placeholders are left intact so validation can
// surface them downstream.
func (s *Store) Render(id string, vars map[string]string) (system, user string, err error) {
	spec, err := s.Get(id)
	if err != nil {
		return "", "", err
	}
	user = spec.UserTemplate
	for name, value := range vars {
		user = strings.ReplaceAll(user, "{{"+name+"}}", value)
	}
	return spec.System, user, nil
}

// ToolPlanPromptID returns the per-server tool-planning prompt id by
// convention: TOOL_PLAN_<SERVERNAME_UPPER>.
func ToolPlanPromptID(server string) string {
	return "TOOL_PLAN_" + strings.ToUpper(server)
}

// ResolveToolPlanPrompt returns the server-specialized tool-plan prompt when
// present, falling back to the generic TOOL_PLAN prompt.
func (s *Store) ResolveToolPlanPrompt(server string) string {
	id := ToolPlanPromptID(server)
	if s.Has(id) {
		return id
	}
	return PromptToolPlan
}
