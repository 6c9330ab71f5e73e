// Package gateway is the protocol state machine for real-time connections:
// it authorizes room access, serializes message writes into the ordered
// history, and propagates presence and status transitions to every
// connected participant. Persistence always completes before any broadcast
// derived from the new state is emitted.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"helpdesk/contract"
	"helpdesk/domain"
	"helpdesk/domain/event"
	herrors "helpdesk/errors"
	"helpdesk/moderation"
	"helpdesk/observability"
	"helpdesk/protocol"
)

type Gateway struct {
	log       *slog.Logger
	store     contract.IConversationStore
	users     contract.IUserStore
	presence  contract.IPresence
	moderator *moderation.Moderator
	stats     *observability.Stats
	events    chan<- event.DomainEvent
	policy    domain.StatusPolicy
}

func NewGateway(log *slog.Logger, store contract.IConversationStore,
	users contract.IUserStore, presence contract.IPresence,
	moderator *moderation.Moderator, stats *observability.Stats,
	events chan<- event.DomainEvent, policy domain.StatusPolicy) *Gateway {
	return &Gateway{
		log:       log,
		store:     store,
		users:     users,
		presence:  presence,
		moderator: moderator,
		stats:     stats,
		events:    events,
		policy:    policy,
	}
}

// Connect registers an authenticated connection and acknowledges it.
func (g *Gateway) Connect(ctx context.Context, connID string, identity domain.Identity, sink contract.ClientSink) error {
	if err := g.presence.Register(connID, identity, sink); err != nil {
		return err
	}
	g.stats.ConnectionOpened()
	g.deliver(ctx, sink, protocol.NewConnectionAck(identity.UserID))
	return nil
}

// Disconnect removes the connection from every room it was in and narrates
// the departure exactly once per affected room.
func (g *Gateway) Disconnect(ctx context.Context, connID string, identity domain.Identity) {
	affected := g.presence.Deregister(connID)
	for _, conversationID := range affected {
		g.broadcastParticipants(ctx, conversationID)
		g.broadcast(ctx, conversationID,
			protocol.NewSystemMessage(conversationID, identity.DisplayName+" has left the conversation"), "")
	}
	g.stats.ConnectionClosed()
}

// Join authorizes the connection for a conversation room, replies with the
// full snapshot, then tells the room. A closed conversation may not be newly
// joined by anyone.
func (g *Gateway) Join(ctx context.Context, connID string, identity domain.Identity, conversationID string) error {
	conv, err := g.store.Get(conversationID)
	if err != nil {
		return err
	}
	if !conv.AccessibleBy(identity) {
		return herrors.ErrForbidden
	}
	if conv.IsClosed() {
		return herrors.ErrConversationClosed
	}

	history, err := g.store.History(conversationID)
	if err != nil {
		return err
	}

	g.presence.Join(connID, conversationID)
	g.stats.RoomJoined()

	if sink, ok := g.presence.Sink(connID); ok {
		g.deliver(ctx, sink, protocol.NewConversationJoined(conv, history))
	}
	g.broadcastParticipants(ctx, conversationID)
	g.broadcast(ctx, conversationID,
		protocol.NewSystemMessage(conversationID, identity.DisplayName+" has joined the conversation"), connID)
	return nil
}

// SendMessage validates, stamps, and atomically appends a message, running
// the status transition for the sender's role in the same store update.
// Broadcasts follow only after the write succeeded.
func (g *Gateway) SendMessage(ctx context.Context, connID string, identity domain.Identity,
	conversationID string, content protocol.MessageContent) error {
	conv, err := g.store.Get(conversationID)
	if err != nil {
		return err
	}
	if !conv.AccessibleBy(identity) {
		return herrors.ErrForbidden
	}
	if conv.IsClosed() {
		return herrors.ErrConversationClosed
	}

	msg, err := g.buildMessage(identity, conversationID, content)
	if err != nil {
		return err
	}

	now := msg.CreatedAt
	patch := domain.Patch{LastMessageAt: &now}

	next := domain.NextOnMessage(conv.Status, identity.Role)
	statusChanged := next != conv.Status
	if statusChanged {
		patch.Status = &next
	}
	if conv.Language == "" && identity.Role == domain.RoleCustomer && msg.Text != "" {
		if lang := detectLanguage(msg.Text); lang != "" {
			patch.Language = &lang
		}
	}

	updated, err := g.store.AppendMessage(conversationID, msg, patch)
	if err != nil {
		return err
	}
	g.stats.MessageStored()
	g.emit(event.MessageStored{Message: msg})

	g.broadcast(ctx, conversationID, protocol.NewMessageEvent(msg), "")
	if statusChanged {
		g.emit(event.StatusChanged{ConversationID: conversationID, NewStatus: updated.Status, At: now})
		g.broadcast(ctx, conversationID,
			protocol.NewStatusUpdate(conversationID,
				"Conversation is now "+string(updated.Status), updated.Status), "")
	}
	return nil
}

// Typing relays a typing signal to the rest of the room. Signals from
// connections that never joined are silently ignored; typing is best-effort.
func (g *Gateway) Typing(ctx context.Context, connID string, identity domain.Identity,
	conversationID string, start bool) {
	if !g.presence.IsJoined(connID, conversationID) {
		return
	}
	g.stats.TypingSignal()
	g.broadcast(ctx, conversationID, protocol.NewTypingSignal(start, conversationID, identity), connID)
}

// Leave removes the connection from one room. Leaving a room the connection
// never joined is a no-op.
func (g *Gateway) Leave(ctx context.Context, connID string, identity domain.Identity, conversationID string) {
	if !g.presence.IsJoined(connID, conversationID) {
		return
	}
	g.presence.Leave(connID, conversationID)
	g.stats.RoomLeft()
	g.broadcastParticipants(ctx, conversationID)
	g.broadcast(ctx, conversationID,
		protocol.NewSystemMessage(conversationID, identity.DisplayName+" has left the conversation"), "")
}

// CreateConversation opens a new conversation for a customer with its
// initial message. Staff accounts reply to conversations, they do not open
// them.
func (g *Gateway) CreateConversation(ctx context.Context, identity domain.Identity,
	subject string, content protocol.MessageContent) (domain.Conversation, error) {
	if identity.Role != domain.RoleCustomer {
		return domain.Conversation{}, herrors.ErrForbidden
	}

	conversationID := uuid.NewString()
	msg, err := g.buildMessage(identity, conversationID, content)
	if err != nil {
		return domain.Conversation{}, err
	}

	conv := domain.Conversation{
		ID:            conversationID,
		CustomerID:    identity.UserID,
		CustomerName:  identity.DisplayName,
		Status:        domain.StatusOpen,
		Subject:       subject,
		CreatedAt:     msg.CreatedAt,
		LastMessageAt: msg.CreatedAt,
	}
	if msg.Text != "" {
		conv.Language = detectLanguage(msg.Text)
	}

	if err := g.store.Create(conv, msg); err != nil {
		return domain.Conversation{}, err
	}
	g.stats.MessageStored()
	g.emit(event.MessageStored{Message: msg})
	return conv, nil
}

// AssignAgent puts an agent on a conversation. Reassigning does not reset
// the status; only an open conversation moves to assigned.
func (g *Gateway) AssignAgent(ctx context.Context, actor domain.Identity,
	conversationID, agentID string) (domain.Conversation, error) {
	if !actor.Role.IsStaff() {
		return domain.Conversation{}, herrors.ErrForbidden
	}
	conv, err := g.store.Get(conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.IsClosed() {
		return domain.Conversation{}, herrors.ErrConversationClosed
	}

	agent, err := g.users.Get(agentID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: agent %s", herrors.ErrUserNotFound, agentID)
	}
	if !agent.Role.IsStaff() {
		return domain.Conversation{}, fmt.Errorf("%w: assignee is not an agent", herrors.ErrForbidden)
	}

	now := time.Now().UTC()
	patch := domain.Assign(conv.Status, agent.ID, agent.DisplayName, now)
	updated, err := g.store.Update(conversationID, patch)
	if err != nil {
		return domain.Conversation{}, err
	}

	g.emit(event.AgentAssigned{ConversationID: conversationID, AgentID: agent.ID, AgentName: agent.DisplayName, At: now})
	if updated.Status != conv.Status {
		g.emit(event.StatusChanged{ConversationID: conversationID, NewStatus: updated.Status, At: now})
	}
	g.broadcast(ctx, conversationID,
		protocol.NewConversationAssigned(conversationID,
			agent.DisplayName+" has been assigned to the conversation",
			agent.ID, agent.DisplayName, updated.Status), "")
	return updated, nil
}

// UpdateStatus applies an explicit status request through the state machine
// and tells the room once it is persisted.
func (g *Gateway) UpdateStatus(ctx context.Context, actor domain.Identity,
	conversationID string, target domain.Status) (domain.Conversation, error) {
	conv, err := g.store.Get(conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.AccessibleBy(actor) {
		return domain.Conversation{}, herrors.ErrForbidden
	}

	now := time.Now().UTC()
	patch, err := g.policy.ApplyRequest(conv, actor.Role, target, now)
	if err != nil {
		return domain.Conversation{}, err
	}

	updated, err := g.store.Update(conversationID, patch)
	if err != nil {
		return domain.Conversation{}, err
	}

	// Re-requesting the current status is accepted but not narrated.
	if updated.Status != conv.Status {
		g.emit(event.StatusChanged{ConversationID: conversationID, NewStatus: updated.Status, At: now})
		g.broadcast(ctx, conversationID,
			protocol.NewStatusUpdate(conversationID,
				actor.DisplayName+" set the status to "+string(updated.Status), updated.Status), "")
	}
	return updated, nil
}

func (g *Gateway) buildMessage(identity domain.Identity, conversationID string,
	content protocol.MessageContent) (domain.Message, error) {
	text := strings.TrimSpace(content.Text)
	if text == "" && content.FileInfo == nil {
		return domain.Message{}, herrors.ErrEmptyMessage
	}

	var file *domain.FileInfo
	if content.FileInfo != nil {
		if !attachmentAllowed(content.FileInfo.MimeType) {
			return domain.Message{}, herrors.ErrUnsupportedAttachment
		}
		file = &domain.FileInfo{
			URL:      content.FileInfo.URL,
			Name:     content.FileInfo.Name,
			MimeType: content.FileInfo.MimeType,
			Size:     content.FileInfo.Size,
		}
	}

	return domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       identity.UserID,
		SenderName:     identity.DisplayName,
		SenderRole:     identity.Role,
		Text:           g.moderator.Censor(text),
		File:           file,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// deliver pushes one event to one sink; failures are logged, never retried.
func (g *Gateway) deliver(ctx context.Context, sink contract.ClientSink, ev protocol.Event) {
	if err := sink.Consume(ctx, ev); err != nil {
		g.log.Warn("event delivery failed", "event", ev.Event, "error", err)
	}
}

// broadcast emits an event to every room member, optionally excluding the
// acting connection. Broadcast is best-effort: a failed delivery must not
// re-attempt the store write that preceded it.
func (g *Gateway) broadcast(ctx context.Context, conversationID string, ev protocol.Event, exclude string) {
	for _, member := range g.presence.Members(conversationID) {
		if member.ConnID == exclude {
			continue
		}
		g.deliver(ctx, member.Sink, ev)
	}
}

func (g *Gateway) broadcastParticipants(ctx context.Context, conversationID string) {
	participants := g.presence.Participants(conversationID)
	g.broadcast(ctx, conversationID, protocol.NewParticipantUpdate(conversationID, participants), "")
}

// emit hands a side-effect event to the fanout pipeline without blocking.
func (g *Gateway) emit(e event.DomainEvent) {
	select {
	case g.events <- e:
	default:
		g.log.Warn("event pipeline full, dropping side-effect event",
			"conversation_id", e.Conversation())
	}
}

func detectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return whatlanggo.LangToString(info.Lang)
}

// attachmentAllowed checks the declared MIME type against the known type
// registry and blocks executable content. Only references pass through the
// service, but a poisoned type would be replayed to every participant.
func attachmentAllowed(declared string) bool {
	mtype := mimetype.Lookup(declared)
	if mtype == nil {
		return false
	}
	blocked := []string{
		"application/x-msdownload",
		"application/x-executable",
		"application/x-sh",
		"application/x-elf",
	}
	for _, b := range blocked {
		if mtype.Is(b) {
			return false
		}
	}
	return true
}
