package domain

import "time"

// Conversation is the durable record owned by the conversation store.
// The chat history is kept as separate ordered entries, not embedded here;
// insertion order of those entries is the single source of truth.
type Conversation struct {
	ID            string
	CustomerID    string
	CustomerName  string
	AgentID       string
	AgentName     string
	Status        Status
	Subject       string
	Language      string
	Summary       string
	CreatedAt     time.Time
	LastMessageAt time.Time
	AssignedAt    *time.Time
	ResolvedAt    *time.Time
	ClosedAt      *time.Time
}

func (c Conversation) IsClosed() bool {
	return c.Status == StatusClosed
}

// AccessibleBy reports whether the identity may view or write to the
// conversation: its customer, or any agent/admin.
func (c Conversation) AccessibleBy(id Identity) bool {
	if id.Role.IsStaff() {
		return true
	}
	return c.CustomerID == id.UserID
}

// Patch carries the conversation fields an atomic update may change.
// Nil fields are left untouched by the store.
type Patch struct {
	Status        *Status
	AgentID       *string
	AgentName     *string
	Language      *string
	Summary       *string
	LastMessageAt *time.Time
	AssignedAt    *time.Time
	ResolvedAt    *time.Time
	ClosedAt      *time.Time
}

// Filter narrows conversation listings.
type Filter struct {
	Status     *Status
	AgentID    *string
	CustomerID *string
}
