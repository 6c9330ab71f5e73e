package repositories

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"helpdesk/domain"
	herrors "helpdesk/errors"
)

const (
	conversationPrefix = "conv:"
	messagePrefix      = "msg:"

	// Commit conflicts under concurrent appends to the same conversation
	// are retried; the message keys themselves never collide.
	maxTxnRetries = 5
)

// ConversationRepository persists conversations and their ordered history in
// BadgerDB. The conversation record lives under "conv:{id}"; each message is
// its own entry under "msg:{conversation}:{timestamp_padded}:{uuid}" so an
// append is a single key write, never a read-modify-write of the whole
// history. The 19-digit zero padding makes lexicographical key order equal
// chronological order, and the uuid disambiguates same-nanosecond arrivals.
type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, log: log}
}

type storedConversation struct {
	ID            string     `cbor:"id"`
	CustomerID    string     `cbor:"customer_id"`
	CustomerName  string     `cbor:"customer_name"`
	AgentID       string     `cbor:"agent_id,omitempty"`
	AgentName     string     `cbor:"agent_name,omitempty"`
	Status        string     `cbor:"status"`
	Subject       string     `cbor:"subject,omitempty"`
	Language      string     `cbor:"language,omitempty"`
	Summary       string     `cbor:"summary,omitempty"`
	CreatedAt     time.Time  `cbor:"created_at"`
	LastMessageAt time.Time  `cbor:"last_message_at"`
	AssignedAt    *time.Time `cbor:"assigned_at,omitempty"`
	ResolvedAt    *time.Time `cbor:"resolved_at,omitempty"`
	ClosedAt      *time.Time `cbor:"closed_at,omitempty"`
}

type storedMessage struct {
	ID             string      `cbor:"id"`
	ConversationID string      `cbor:"conversation_id"`
	SenderID       string      `cbor:"sender_id"`
	SenderName     string      `cbor:"sender_name"`
	SenderRole     string      `cbor:"sender_role"`
	Text           string      `cbor:"text,omitempty"`
	File           *storedFile `cbor:"file,omitempty"`
	At             int64       `cbor:"at"`
}

type storedFile struct {
	URL      string `cbor:"url"`
	Name     string `cbor:"name"`
	MimeType string `cbor:"mime_type"`
	Size     int64  `cbor:"size"`
}

func conversationKey(id string) []byte {
	return []byte(conversationPrefix + id)
}

func messageKey(msg domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s",
		messagePrefix, msg.ConversationID, msg.CreatedAt.UnixNano(), msg.ID))
}

// Create persists a new conversation together with its initial message in
// one transaction.
func (r *ConversationRepository) Create(conv domain.Conversation, first domain.Message) error {
	convBytes, err := cbor.Marshal(fromConversation(conv))
	if err != nil {
		return fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}
	msgBytes, err := cbor.Marshal(fromMessage(first))
	if err != nil {
		return fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		key := conversationKey(conv.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("conversation %s already exists", conv.ID)
		}
		if err := txn.Set(key, convBytes); err != nil {
			return err
		}
		return txn.Set(messageKey(first), msgBytes)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}
	return nil
}

func (r *ConversationRepository) Get(id string) (domain.Conversation, error) {
	var rec storedConversation
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conversationKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, herrors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}
	return toConversation(rec), nil
}

// History returns the full ordered message sequence of a conversation.
// The prefix scan walks keys in ascending lexicographical order, which is
// durable append order by construction.
func (r *ConversationRepository) History(id string) ([]domain.Message, error) {
	var records []storedMessage
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix + id + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec storedMessage
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}

	messages := make([]domain.Message, 0, len(records))
	for _, rec := range records {
		msg, err := toMessage(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AppendMessage atomically writes the message entry and the patched
// conversation record in one transaction, so history, status, and timestamps
// move together or not at all. Commit conflicts from concurrent appends on
// the same conversation are retried.
func (r *ConversationRepository) AppendMessage(id string, msg domain.Message, patch domain.Patch) (domain.Conversation, error) {
	msgBytes, err := cbor.Marshal(fromMessage(msg))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}

	var updated storedConversation
	write := func(txn *badger.Txn) error {
		rec, err := readConversation(txn, id)
		if err != nil {
			return err
		}
		applyPatch(&rec, patch)
		convBytes, err := cbor.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(conversationKey(id), convBytes); err != nil {
			return err
		}
		if err := txn.Set(messageKey(msg), msgBytes); err != nil {
			return err
		}
		updated = rec
		return nil
	}

	if err := r.updateWithRetry(write); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.Conversation{}, herrors.ErrConversationNotFound
		}
		return domain.Conversation{}, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}
	return toConversation(updated), nil
}

// Update applies a patch to the conversation record alone.
func (r *ConversationRepository) Update(id string, patch domain.Patch) (domain.Conversation, error) {
	var updated storedConversation
	write := func(txn *badger.Txn) error {
		rec, err := readConversation(txn, id)
		if err != nil {
			return err
		}
		applyPatch(&rec, patch)
		convBytes, err := cbor.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(conversationKey(id), convBytes); err != nil {
			return err
		}
		updated = rec
		return nil
	}

	if err := r.updateWithRetry(write); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.Conversation{}, herrors.ErrConversationNotFound
		}
		return domain.Conversation{}, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}
	return toConversation(updated), nil
}

// List scans all conversation records and filters them in memory. The
// support-desk working set is small enough that a secondary index is not
// worth its upkeep yet.
func (r *ConversationRepository) List(filter domain.Filter) ([]domain.Conversation, error) {
	var records []storedConversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(conversationPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec storedConversation
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", herrors.ErrPersistence, err)
	}

	conversations := lo.Map(records, func(rec storedConversation, _ int) domain.Conversation {
		return toConversation(rec)
	})
	return lo.Filter(conversations, func(c domain.Conversation, _ int) bool {
		if filter.Status != nil && c.Status != *filter.Status {
			return false
		}
		if filter.AgentID != nil && c.AgentID != *filter.AgentID {
			return false
		}
		if filter.CustomerID != nil && c.CustomerID != *filter.CustomerID {
			return false
		}
		return true
	}), nil
}

func (r *ConversationRepository) updateWithRetry(write func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = r.db.Update(write)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.Debug("transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func readConversation(txn *badger.Txn, id string) (storedConversation, error) {
	var rec storedConversation
	item, err := txn.Get(conversationKey(id))
	if err != nil {
		return storedConversation{}, err
	}
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &rec)
	})
	return rec, err
}

func applyPatch(rec *storedConversation, patch domain.Patch) {
	if patch.Status != nil {
		rec.Status = string(*patch.Status)
	}
	if patch.AgentID != nil {
		rec.AgentID = *patch.AgentID
	}
	if patch.AgentName != nil {
		rec.AgentName = *patch.AgentName
	}
	if patch.Language != nil {
		rec.Language = *patch.Language
	}
	if patch.Summary != nil {
		rec.Summary = *patch.Summary
	}
	if patch.LastMessageAt != nil {
		rec.LastMessageAt = *patch.LastMessageAt
	}
	if patch.AssignedAt != nil {
		rec.AssignedAt = patch.AssignedAt
	}
	if patch.ResolvedAt != nil {
		rec.ResolvedAt = patch.ResolvedAt
	}
	if patch.ClosedAt != nil {
		rec.ClosedAt = patch.ClosedAt
	}
}

func fromConversation(conv domain.Conversation) storedConversation {
	return storedConversation{
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
	}
}

func toConversation(rec storedConversation) domain.Conversation {
	return domain.Conversation{
		ID:            rec.ID,
		CustomerID:    rec.CustomerID,
		CustomerName:  rec.CustomerName,
		AgentID:       rec.AgentID,
		AgentName:     rec.AgentName,
		Status:        domain.Status(rec.Status),
		Subject:       rec.Subject,
		Language:      rec.Language,
		Summary:       rec.Summary,
		CreatedAt:     rec.CreatedAt,
		LastMessageAt: rec.LastMessageAt,
		AssignedAt:    rec.AssignedAt,
		ResolvedAt:    rec.ResolvedAt,
		ClosedAt:      rec.ClosedAt,
	}
}

func fromMessage(msg domain.Message) storedMessage {
	rec := storedMessage{
		ID:             msg.ID.String(),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		SenderRole:     string(msg.SenderRole),
		Text:           msg.Text,
		At:             msg.CreatedAt.UnixNano(),
	}
	if msg.File != nil {
		rec.File = &storedFile{
			URL:      msg.File.URL,
			Name:     msg.File.Name,
			MimeType: msg.File.MimeType,
			Size:     msg.File.Size,
		}
	}
	return rec
}

func toMessage(rec storedMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(rec.ID)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:             parsedID,
		ConversationID: rec.ConversationID,
		SenderID:       rec.SenderID,
		SenderName:     rec.SenderName,
		SenderRole:     domain.Role(rec.SenderRole),
		Text:           rec.Text,
		CreatedAt:      time.Unix(0, rec.At).UTC(),
	}
	if rec.File != nil {
		msg.File = &domain.FileInfo{
			URL:      rec.File.URL,
			Name:     rec.File.Name,
			MimeType: rec.File.MimeType,
			Size:     rec.File.Size,
		}
	}
	return msg, nil
}
