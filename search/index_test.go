package search_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"helpdesk/domain"
	"helpdesk/domain/event"
	"helpdesk/search"
)

func openIndex(t *testing.T) *search.Index {
	t.Helper()
	index, err := search.Open(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func message(conversationID, sender, text string) domain.Message {
	return domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       sender,
		SenderName:     sender,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestIndex_SearchByTerms(t *testing.T) {
	// Given indexed messages across two conversations
	req := require.New(t)
	index := openIndex(t)
	ctx := context.Background()

	req.NoError(index.IndexMessage(message("conv-1", "cust-1", "my invoice total is wrong")))
	req.NoError(index.IndexMessage(message("conv-1", "agent-1", "the invoice has been corrected")))
	req.NoError(index.IndexMessage(message("conv-2", "cust-2", "password reset does not work")))

	// When searching for a term
	hits, err := index.Search(ctx, "invoice", "", 10)

	// Then only matching messages come back, with their stored fields
	req.NoError(err)
	req.Len(hits, 2)
	for _, hit := range hits {
		req.Equal("conv-1", hit.ConversationID)
		req.Contains(hit.Text, "invoice")
		req.NotEmpty(hit.MessageID)
	}

	hits, err = index.Search(ctx, "password", "", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("conv-2", hits[0].ConversationID)
}

func TestIndex_SearchScopedToConversation(t *testing.T) {
	// Given the same term in two conversations
	req := require.New(t)
	index := openIndex(t)
	ctx := context.Background()

	req.NoError(index.IndexMessage(message("conv-1", "cust-1", "refund please")))
	req.NoError(index.IndexMessage(message("conv-2", "cust-2", "refund please")))

	// When the search carries a conversation scope
	hits, err := index.Search(ctx, "refund", "conv-2", 10)

	// Then hits outside the scope are excluded
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("conv-2", hits[0].ConversationID)
}

func TestIndex_ConsumeIndexesStoredMessages(t *testing.T) {
	// Given the index wired as an event sink
	req := require.New(t)
	index := openIndex(t)
	ctx := context.Background()

	req.NoError(index.Consume(ctx, event.MessageStored{
		Message: message("conv-1", "cust-1", "shipment never arrived"),
	}))
	// Text-less and non-message events pass through untouched.
	req.NoError(index.Consume(ctx, event.MessageStored{Message: message("conv-1", "cust-1", "")}))
	req.NoError(index.Consume(ctx, event.StatusChanged{ConversationID: "conv-1", NewStatus: domain.StatusResolved}))

	hits, err := index.Search(ctx, "shipment", "", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("shipment never arrived", hits[0].Text)
}
