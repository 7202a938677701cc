package events

import (
	"github.com/atlas-agents/atlas/pkg/pipeline"
)

// Publisher adapts pipeline progress events onto the WebSocket channel.
// Implements pipeline.Publisher.
type Publisher struct {
	manager *ConnectionManager
}

// NewPublisher creates a publisher over the connection manager.
func NewPublisher(manager *ConnectionManager) *Publisher {
	return &Publisher{manager: manager}
}

// Publish broadcasts one pipeline event on the session's channel.
func (p *Publisher) Publish(sessionID string, event pipeline.Event) {
	p.manager.Broadcast(SessionChannel(sessionID), ServerMessage{
		Type:    event.Type,
		Payload: event.Payload,
	})
}
