// Package event defines the side-effect events emitted after a store write
// succeeds. They feed in-process sinks (search index, summarizer trigger,
// counters), never the socket protocol directly.
package event

import (
	"time"

	"helpdesk/domain"
)

type DomainEvent interface {
	Conversation() string
}

// MessageStored is emitted once a message has been durably appended.
type MessageStored struct {
	Message domain.Message
}

func (e MessageStored) Conversation() string {
	return e.Message.ConversationID
}

// StatusChanged is emitted after a status transition has been persisted,
// whether implicit (message flow) or explicit (assignment, status request).
type StatusChanged struct {
	ConversationID string
	NewStatus      domain.Status
	At             time.Time
}

func (e StatusChanged) Conversation() string {
	return e.ConversationID
}

// AgentAssigned is emitted after an agent reference change has been persisted.
type AgentAssigned struct {
	ConversationID string
	AgentID        string
	AgentName      string
	At             time.Time
}

func (e AgentAssigned) Conversation() string {
	return e.ConversationID
}
