// Package protocol defines the closed set of tagged events exchanged on the
// real-time channel, with required-field validation at the boundary.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound event names (client to server).
const (
	EventJoinConversation  = "join_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "user_typing_start"
	EventTypingStop        = "user_typing_stop"
	EventLeaveConversation = "leave_conversation"
)

var validate = validator.New()

// Envelope is the raw frame read off the socket before the payload is
// decoded into its typed variant.
type Envelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

// Command is an inbound event bound to one conversation.
type Command interface {
	Conversation() string
}

type JoinConversation struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

func (c JoinConversation) Conversation() string { return c.ConversationID }

type SendMessage struct {
	ConversationID string         `json:"conversation_id" validate:"required"`
	Content        MessageContent `json:"content"`
}

func (c SendMessage) Conversation() string { return c.ConversationID }

type MessageContent struct {
	Text     string    `json:"text,omitempty"`
	FileInfo *FileInfo `json:"file_info,omitempty"`
}

type FileInfo struct {
	URL      string `json:"url" validate:"required"`
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
	Size     int64  `json:"size" validate:"gte=0"`
}

type TypingStart struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

func (c TypingStart) Conversation() string { return c.ConversationID }

type TypingStop struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

func (c TypingStop) Conversation() string { return c.ConversationID }

type LeaveConversation struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

func (c LeaveConversation) Conversation() string { return c.ConversationID }

// Decode parses a raw frame into its typed inbound variant and validates the
// required fields. Unknown event names are rejected.
func Decode(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, err
	}

	var cmd Command
	switch env.Event {
	case EventJoinConversation:
		cmd = &JoinConversation{}
	case EventSendMessage:
		cmd = &SendMessage{}
	case EventTypingStart:
		cmd = &TypingStart{}
	case EventTypingStop:
		cmd = &TypingStop{}
	case EventLeaveConversation:
		cmd = &LeaveConversation{}
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	if err := json.Unmarshal(env.Data, cmd); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", env.Event, err)
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return deref(cmd), nil
}

// deref returns the value form so type switches in the dispatcher stay flat.
func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *JoinConversation:
		return *c
	case *SendMessage:
		return *c
	case *TypingStart:
		return *c
	case *TypingStop:
		return *c
	case *LeaveConversation:
		return *c
	}
	return cmd
}
