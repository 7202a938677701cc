// Package session provides the in-memory per-conversation state store:
// chat thread, last plan, dev problems queue, and analysis context. Nothing
// here touches disk; the memory MCP server is the only persistent sink.
package session

import (
	"time"

	"github.com/atlas-agents/atlas/pkg/models"
)

// Message roles in the chat thread.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxThreadMessages bounds the persisted chat thread.
const MaxThreadMessages = 10

// Message is one chat-thread entry.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Problem is one queued dev-mode finding.
type Problem struct {
	Title     string    `json:"title"`
	Severity  string    `json:"severity"`
	File      string    `json:"file,omitempty"`
	Details   string    `json:"details,omitempty"`
	Signature string    `json:"signature"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Session is one conversation's state. TodoItems and ToolResults hanging off
// the plan are exclusively owned by their session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Thread          []Message               `json:"thread,omitempty"`
	LastPlan        *models.TodoList        `json:"last_plan,omitempty"`
	DevProblems     []Problem               `json:"dev_problems,omitempty"`
	AnalysisContext *models.AnalysisContext `json:"analysis_context,omitempty"`

	// InterventionActive marks a session taken over by dev intervention
	// until the converted plan reaches a terminal state.
	InterventionActive bool `json:"intervention_active,omitempty"`
}

// AppendMessage adds a thread entry, trimming to the bounded length.
func (s *Session) AppendMessage(role, content string) {
	s.Thread = append(s.Thread, Message{Role: role, Content: content, At: time.Now()})
	if len(s.Thread) > MaxThreadMessages {
		s.Thread = s.Thread[len(s.Thread)-MaxThreadMessages:]
	}
	s.UpdatedAt = time.Now()
}

// RecentTexts returns up to n most recent thread contents, oldest first.
func (s *Session) RecentTexts(n int) []string {
	start := len(s.Thread) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(s.Thread)-start)
	for _, m := range s.Thread[start:] {
		out = append(out, m.Content)
	}
	return out
}
