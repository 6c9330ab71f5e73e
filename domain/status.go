package domain

import (
	"time"

	"helpdesk/errors"
)

// Status is the conversation lifecycle state. Closed is terminal: no
// further transitions and no new joins.
type Status string

const (
	StatusOpen            Status = "open"
	StatusAssigned        Status = "assigned"
	StatusInProgress      Status = "in_progress"
	StatusPendingCustomer Status = "pending_customer"
	StatusResolved        Status = "resolved"
	StatusClosed          Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusPendingCustomer,
		StatusResolved, StatusClosed:
		return true
	}
	return false
}

// NextOnMessage returns the status after a message by senderRole.
// Ordinary agent/admin replies implicitly advance the initial states to
// in_progress; customer messages never change status through this path.
func NextOnMessage(current Status, sender Role) Status {
	if !sender.IsStaff() {
		return current
	}
	switch current {
	case StatusOpen, StatusAssigned:
		return StatusInProgress
	}
	return current
}

// Assign builds the patch for putting an agent on a conversation.
// An open conversation moves to assigned and records the assignment time;
// any other state keeps its status while the agent reference still changes.
func Assign(current Status, agentID, agentName string, now time.Time) Patch {
	patch := Patch{AgentID: &agentID, AgentName: &agentName}
	if current == StatusOpen {
		assigned := StatusAssigned
		patch.Status = &assigned
		patch.AssignedAt = &now
	}
	return patch
}

// StatusPolicy holds the configurable edges of the state machine.
type StatusPolicy struct {
	// AllowCustomerReopen lets a customer move a resolved conversation
	// back to open. Off by default.
	AllowCustomerReopen bool
}

// ApplyRequest validates an explicit status change by actor and returns the
// patch to persist. Agents and admins may set any state; a customer may only
// request open, and only from resolved when reopening is enabled.
func (p StatusPolicy) ApplyRequest(conv Conversation, actor Role, target Status, now time.Time) (Patch, error) {
	if conv.IsClosed() {
		return Patch{}, errors.ErrConversationClosed
	}
	if !actor.IsStaff() {
		if target != StatusOpen {
			return Patch{}, errors.ErrForbidden
		}
		if conv.Status == StatusResolved && !p.AllowCustomerReopen {
			return Patch{}, errors.ErrForbidden
		}
	}

	patch := Patch{Status: &target}
	switch target {
	case StatusResolved:
		patch.ResolvedAt = &now
	case StatusClosed:
		patch.ClosedAt = &now
		if conv.ResolvedAt == nil {
			patch.ResolvedAt = &now
		}
	}
	return patch, nil
}
