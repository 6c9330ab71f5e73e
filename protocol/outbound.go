package protocol

import (
	"time"

	"github.com/samber/lo"

	"helpdesk/domain"
)

// Outbound event names (server to client(s)).
const (
	EventConnectionAck        = "connection_ack"
	EventConversationJoined   = "conversation_joined"
	EventParticipantUpdate    = "participant_update"
	EventSystemMessage        = "system_message"
	EventNewMessage           = "new_message"
	EventStatusUpdate         = "conversation_status_update"
	EventConversationAssigned = "conversation_assigned"
	EventTypingStartBroadcast = "typing_start_broadcast"
	EventTypingStopBroadcast  = "typing_stop_broadcast"
	EventError                = "error_message"
)

// Event is one outbound frame. Data is always one of the payload structs
// below, never a free-form map.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ConnectionAck struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type Participant struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Role     string `json:"role"`
}

type MessageEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderRole     string    `json:"sender_role"`
	Text           string    `json:"text,omitempty"`
	FileInfo       *FileInfo `json:"file_info,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConversationSnapshot struct {
	ID            string         `json:"id"`
	CustomerID    string         `json:"customer_id"`
	CustomerName  string         `json:"customer_name"`
	AgentID       string         `json:"agent_id,omitempty"`
	AgentName     string         `json:"agent_name,omitempty"`
	Status        string         `json:"status"`
	Subject       string         `json:"subject,omitempty"`
	Language      string         `json:"language,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastMessageAt time.Time      `json:"last_message_at"`
	AssignedAt    *time.Time     `json:"assigned_at,omitempty"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	Messages      []MessageEntry `json:"messages"`
}

type ParticipantUpdate struct {
	ConversationID string        `json:"conversation_id"`
	Participants   []Participant `json:"participants"`
}

type SystemMessage struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type StatusDetail struct {
	NewStatus string `json:"new_status"`
}

type StatusUpdate struct {
	ConversationID string       `json:"conversation_id"`
	Text           string       `json:"text"`
	Detail         StatusDetail `json:"detail"`
}

type AssignmentDetail struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	NewStatus string `json:"new_status"`
}

type ConversationAssigned struct {
	ConversationID string           `json:"conversation_id"`
	Text           string           `json:"text"`
	Detail         AssignmentDetail `json:"detail"`
}

type TypingSignal struct {
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	ConversationID string `json:"conversation_id"`
}

type ErrorMessage struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

func NewConnectionAck(userID string) Event {
	return Event{Event: EventConnectionAck, Data: ConnectionAck{
		UserID:  userID,
		Message: "connection established",
	}}
}

func NewConversationJoined(conv domain.Conversation, history []domain.Message) Event {
	return Event{Event: EventConversationJoined, Data: Snapshot(conv, history)}
}

// Snapshot renders a conversation with its ordered history in wire form.
// The REST surface shares this shape with the conversation_joined event.
func Snapshot(conv domain.Conversation, history []domain.Message) ConversationSnapshot {
	return ConversationSnapshot{
		ID:            conv.ID,
		CustomerID:    conv.CustomerID,
		CustomerName:  conv.CustomerName,
		AgentID:       conv.AgentID,
		AgentName:     conv.AgentName,
		Status:        string(conv.Status),
		Subject:       conv.Subject,
		Language:      conv.Language,
		Summary:       conv.Summary,
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
		AssignedAt:    conv.AssignedAt,
		ResolvedAt:    conv.ResolvedAt,
		ClosedAt:      conv.ClosedAt,
		Messages:      toMessageEntries(history),
	}
}

func NewParticipantUpdate(conversationID string, participants []domain.Identity) Event {
	return Event{Event: EventParticipantUpdate, Data: ParticipantUpdate{
		ConversationID: conversationID,
		Participants: lo.Map(participants, func(p domain.Identity, _ int) Participant {
			return Participant{UserID: p.UserID, UserName: p.DisplayName, Role: string(p.Role)}
		}),
	}}
}

func NewSystemMessage(conversationID, text string) Event {
	return Event{Event: EventSystemMessage, Data: SystemMessage{
		ConversationID: conversationID,
		Text:           text,
	}}
}

func NewMessageEvent(msg domain.Message) Event {
	return Event{Event: EventNewMessage, Data: toMessageEntry(msg)}
}

func NewStatusUpdate(conversationID, text string, newStatus domain.Status) Event {
	return Event{Event: EventStatusUpdate, Data: StatusUpdate{
		ConversationID: conversationID,
		Text:           text,
		Detail:         StatusDetail{NewStatus: string(newStatus)},
	}}
}

func NewConversationAssigned(conversationID, text, agentID, agentName string, newStatus domain.Status) Event {
	return Event{Event: EventConversationAssigned, Data: ConversationAssigned{
		ConversationID: conversationID,
		Text:           text,
		Detail: AssignmentDetail{
			AgentID:   agentID,
			AgentName: agentName,
			NewStatus: string(newStatus),
		},
	}}
}

func NewTypingSignal(start bool, conversationID string, actor domain.Identity) Event {
	name := EventTypingStopBroadcast
	if start {
		name = EventTypingStartBroadcast
	}
	return Event{Event: name, Data: TypingSignal{
		UserID:         actor.UserID,
		UserName:       actor.DisplayName,
		ConversationID: conversationID,
	}}
}

// NewError builds a scoped error event. An empty conversation id marks a
// global error; clients route scoped errors by the id they carry.
func NewError(conversationID, message string) Event {
	return Event{Event: EventError, Data: ErrorMessage{
		ConversationID: conversationID,
		Message:        message,
	}}
}

func toMessageEntries(history []domain.Message) []MessageEntry {
	entries := lo.Map(history, func(m domain.Message, _ int) MessageEntry {
		return toMessageEntry(m)
	})
	if entries == nil {
		entries = []MessageEntry{}
	}
	return entries
}

func toMessageEntry(m domain.Message) MessageEntry {
	entry := MessageEntry{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderRole:     string(m.SenderRole),
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
	if m.File != nil {
		entry.FileInfo = &FileInfo{
			URL:      m.File.URL,
			Name:     m.File.Name,
			MimeType: m.File.MimeType,
			Size:     m.File.Size,
		}
	}
	return entry
}
