// Package search maintains a full-text index over persisted messages for
// agent tooling. Indexing happens off the hot path, fed by stored-message
// events; a lost index entry is acceptable, the Badger history stays the
// source of truth.
package search

import (
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"

	"helpdesk/domain"
	"helpdesk/domain/event"
)

type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func Open(path string, log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	return &Index{writer: writer, log: log}, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}

// Consume indexes stored messages; other events pass through. Implements
// the in-process event sink contract.
func (i *Index) Consume(_ context.Context, e event.DomainEvent) error {
	stored, ok := e.(event.MessageStored)
	if !ok || stored.Message.Text == "" {
		return nil
	}
	return i.IndexMessage(stored.Message)
}

func (i *Index) IndexMessage(msg domain.Message) error {
	doc := bluge.NewDocument(msg.ID.String()).
		AddField(bluge.NewTextField("text", msg.Text).StoreValue()).
		AddField(bluge.NewKeywordField("conversation_id", msg.ConversationID).StoreValue()).
		AddField(bluge.NewKeywordField("sender_id", msg.SenderID).StoreValue()).
		AddField(bluge.NewKeywordField("sender_name", msg.SenderName).StoreValue()).
		AddField(bluge.NewDateTimeField("created_at", msg.CreatedAt))
	return i.writer.Update(doc.ID(), doc)
}

// Hit is one search result, pointing back into a conversation's history.
type Hit struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text"`
}

// Search matches terms against message text, optionally scoped to one
// conversation.
func (i *Index) Search(ctx context.Context, terms, conversationID string, limit int) ([]Hit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("failed to close index reader", "error", err)
		}
	}()

	var query bluge.Query = bluge.NewMatchQuery(terms).SetField("text")
	if conversationID != "" {
		query = bluge.NewBooleanQuery().
			AddMust(query).
			AddMust(bluge.NewTermQuery(conversationID).SetField("conversation_id"))
	}

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	match, err := iterator.Next()
	for err == nil && match != nil {
		var hit Hit
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "conversation_id":
				hit.ConversationID = string(value)
			case "sender_id":
				hit.SenderID = string(value)
			case "sender_name":
				hit.SenderName = string(value)
			case "text":
				hit.Text = string(value)
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		hits = append(hits, hit)
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}
