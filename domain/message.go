package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileInfo is a retrievable attachment reference. Raw bytes never pass
// through this service.
type FileInfo struct {
	URL      string
	Name     string
	MimeType string
	Size     int64
}

// Message is an immutable chat event. The timestamp is assigned by the
// server and the sender role is captured at send time, never re-resolved.
type Message struct {
	ID             uuid.UUID
	ConversationID string
	SenderID       string
	SenderName     string
	SenderRole     Role
	Text           string
	File           *FileInfo
	CreatedAt      time.Time
}

// HasContent reports whether the message carries text or a file reference.
// A message with neither is invalid and must never reach the history.
func (m Message) HasContent() bool {
	return m.Text != "" || m.File != nil
}
