// Package presence tracks live connections and conversation room membership.
// The registry is process-local state: empty at start, mutated only by
// gateway handlers, never persisted. A restart drops everything and clients
// re-authenticate and re-join.
package presence

import (
	"fmt"
	"sync"

	"helpdesk/contract"
	"helpdesk/domain"
)

type set map[string]struct{}

type session struct {
	identity domain.Identity
	sink     contract.ClientSink
	rooms    set
}

// Registry is the authoritative index of connections and rooms. Both maps
// stay consistent: every connection id in a room set has a session listing
// that room, and vice versa.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*session // connection id -> session
	roomMembers map[string]set      // conversation id -> connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*session),
		roomMembers: make(map[string]set),
	}
}

// Register records a freshly authenticated connection. Registering the same
// connection id twice is a programming error.
func (r *Registry) Register(connID string, identity domain.Identity, sink contract.ClientSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connID]; ok {
		return fmt.Errorf("connection %s already registered", connID)
	}
	r.sessions[connID] = &session{identity: identity, sink: sink, rooms: make(set)}
	return nil
}

// Join adds the connection to a room. Joining twice is a no-op. If the room
// does not yet exist it is initialized on the fly.
func (r *Registry) Join(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return
	}
	sess.rooms[conversationID] = struct{}{}

	if _, ok := r.roomMembers[conversationID]; !ok {
		r.roomMembers[conversationID] = make(set)
	}
	r.roomMembers[conversationID][connID] = struct{}{}
}

// Leave removes the connection from a room. If no one is left, the room
// entry is dropped entirely to prevent unbounded growth.
func (r *Registry) Leave(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, conversationID)
}

func (r *Registry) leaveLocked(connID, conversationID string) {
	if sess, ok := r.sessions[connID]; ok {
		delete(sess.rooms, conversationID)
	}
	if members, ok := r.roomMembers[conversationID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.roomMembers, conversationID)
		}
	}
}

func (r *Registry) IsJoined(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return false
	}
	_, joined := sess.rooms[conversationID]
	return joined
}

// Participants returns the identity snapshot of every connection currently
// in the room. Order is unspecified; the presentation layer may sort.
func (r *Registry) Participants(conversationID string) []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[conversationID]
	if !ok {
		return nil
	}
	out := make([]domain.Identity, 0, len(members))
	for connID := range members {
		if sess, exists := r.sessions[connID]; exists {
			out = append(out, sess.identity)
		}
	}
	return out
}

// Members returns the broadcast audience of a room: each joined connection
// with its identity and delivery sink.
func (r *Registry) Members(conversationID string) []contract.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[conversationID]
	if !ok {
		return nil
	}
	out := make([]contract.Member, 0, len(members))
	for connID := range members {
		if sess, exists := r.sessions[connID]; exists {
			out = append(out, contract.Member{ConnID: connID, Identity: sess.identity, Sink: sess.sink})
		}
	}
	return out
}

// Sink resolves the delivery sink of one connection.
func (r *Registry) Sink(connID string) (contract.ClientSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return nil, false
	}
	return sess.sink, true
}

// Deregister drops the connection and removes it from every room it was in.
// It returns the affected conversation ids so the caller can broadcast the
// departure exactly once per room.
func (r *Registry) Deregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return nil
	}
	affected := make([]string, 0, len(sess.rooms))
	for conversationID := range sess.rooms {
		affected = append(affected, conversationID)
	}
	for _, conversationID := range affected {
		r.leaveLocked(connID, conversationID)
	}
	delete(r.sessions, connID)
	return affected
}

// ActiveConnections reports the number of live registered connections.
func (r *Registry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
