package models

import (
	"fmt"
	"strings"
)

// TodoItem is the atomic unit of work. Items form a tree: sub-items are owned
// by their parent and share its lifetime. Identifiers are hierarchical
// ("a", "a.b", "a.b.c") and generated at insertion time.
type TodoItem struct {
	ID               string         `json:"id"`
	Action           string         `json:"action"`
	SuccessCriteria  string         `json:"success_criteria,omitempty"`
	SuggestedServers []string       `json:"suggested_servers,omitempty"`
	MCPServers       []string       `json:"mcp_servers,omitempty"` // persisted Stage 2.0 selection
	Parameters       map[string]any `json:"parameters,omitempty"`
	MaxAttempts      int            `json:"max_attempts"`
	Attempt          int            `json:"attempt"`
	Dependencies     []string       `json:"dependencies,omitempty"`
	Status           ItemStatus     `json:"status"`
	SubItems         []*TodoItem    `json:"sub_items,omitempty"`
	ExecutionResults []ToolResult   `json:"execution_results,omitempty"`
	Verification     *Verification  `json:"verification,omitempty"`
}

// NewTodoItem creates a pending item with the given id and action.
func NewTodoItem(id, action string, maxAttempts int) *TodoItem {
	return &TodoItem{
		ID:          id,
		Action:      action,
		MaxAttempts: maxAttempts,
		Status:      ItemStatusPending,
	}
}

// AddSubItem appends a child, assigning the next hierarchical id
// ("<parent>.<n>") at insertion time.
func (t *TodoItem) AddSubItem(action string, maxAttempts int) *TodoItem {
	child := NewTodoItem(ChildID(t.ID, len(t.SubItems)), action, maxAttempts)
	t.SubItems = append(t.SubItems, child)
	return child
}

// Depth returns the item's depth in the tree (top-level items have depth 1).
func (t *TodoItem) Depth() int {
	return strings.Count(t.ID, ".") + 1
}

// CanAttempt reports whether the retry budget allows another attempt.
func (t *TodoItem) CanAttempt() bool {
	return t.Attempt < t.MaxAttempts
}

// indexLabel generates "a".."z", then "a1", "a2", ... for overflow. Plans
// beyond 26 top-level items are pathological but must not collide.
func indexLabel(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprintf("a%d", i-25)
}

// RootID returns the hierarchical id for the i-th top-level item.
func RootID(i int) string {
	return indexLabel(i)
}

// ChildID returns the hierarchical id for the i-th child of parent.
func ChildID(parentID string, i int) string {
	return parentID + "." + indexLabel(i)
}

// TodoList is an ordered plan of top-level items with dependency edges.
type TodoList struct {
	Items []*TodoItem `json:"items"`
}

// Find returns the item with the given id, searching the whole tree.
func (l *TodoList) Find(id string) *TodoItem {
	for _, item := range l.Items {
		if found := findIn(item, id); found != nil {
			return found
		}
	}
	return nil
}

func findIn(item *TodoItem, id string) *TodoItem {
	if item.ID == id {
		return item
	}
	for _, sub := range item.SubItems {
		if found := findIn(sub, id); found != nil {
			return found
		}
	}
	return nil
}

// Replace swaps the item with the given id for the replacement items,
// preserving plan order. Used by the replanner. Returns false when the id is
// not a top-level item.
func (l *TodoList) Replace(id string, replacements []*TodoItem) bool {
	for i, item := range l.Items {
		if item.ID != id {
			continue
		}
		rest := make([]*TodoItem, 0, len(l.Items)-1+len(replacements))
		rest = append(rest, l.Items[:i]...)
		rest = append(rest, replacements...)
		rest = append(rest, l.Items[i+1:]...)
		l.Items = rest
		return true
	}
	return false
}

// DependenciesMet reports whether every dependency of the item is completed.
func (l *TodoList) DependenciesMet(item *TodoItem) bool {
	for _, dep := range item.Dependencies {
		depItem := l.Find(dep)
		if depItem == nil || depItem.Status != ItemStatusCompleted {
			return false
		}
	}
	return true
}

// NextRunnable returns the first pending item whose dependencies are all
// completed, honouring plan order. Returns nil when nothing can run.
func (l *TodoList) NextRunnable() *TodoItem {
	for _, item := range l.Items {
		if item.Status == ItemStatusPending && l.DependenciesMet(item) {
			return item
		}
	}
	return nil
}

// Done reports whether every item reached a terminal status.
func (l *TodoList) Done() bool {
	for _, item := range l.Items {
		if !item.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// ValidateDAG checks that dependency edges reference known items and form no
// cycle. Returns a descriptive error for planner regeneration.
func (l *TodoList) ValidateDAG() error {
	ids := make(map[string]bool, len(l.Items))
	for _, item := range l.Items {
		ids[item.ID] = true
	}
	for _, item := range l.Items {
		for _, dep := range item.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("item %s depends on unknown item %s", item.ID, dep)
			}
		}
	}

	// Colour-based cycle detection over top-level items.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := make(map[string]int, len(l.Items))
	var visit func(id string) error
	visit = func(id string) error {
		switch colour[id] {
		case grey:
			return fmt.Errorf("dependency cycle through item %s", id)
		case black:
			return nil
		}
		colour[id] = grey
		item := l.Find(id)
		for _, dep := range item.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colour[id] = black
		return nil
	}
	for _, item := range l.Items {
		if err := visit(item.ID); err != nil {
			return err
		}
	}
	return nil
}
