package repositories_test

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"helpdesk/domain"
	herrors "helpdesk/errors"
	"helpdesk/repositories"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newConversation(id string) domain.Conversation {
	now := time.Now().UTC()
	return domain.Conversation{
		ID:            id,
		CustomerID:    "cust-1",
		CustomerName:  "Carla",
		Status:        domain.StatusOpen,
		Subject:       "Broken invoice",
		CreatedAt:     now,
		LastMessageAt: now,
	}
}

func newMessage(conversationID, text string, role domain.Role, at time.Time) domain.Message {
	return domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       "cust-1",
		SenderName:     "Carla",
		SenderRole:     role,
		Text:           text,
		CreatedAt:      at,
	}
}

func TestConversationRepository_CreateAndGet(t *testing.T) {
	// Given a fresh store
	req := require.New(t)
	repo := repositories.NewConversationRepository(openDB(t), slog.Default())
	conv := newConversation("conv-1")
	first := newMessage("conv-1", "my invoice is wrong", domain.RoleCustomer, conv.CreatedAt)

	// When the conversation is created with its initial message
	req.NoError(repo.Create(conv, first))

	// Then the record and the one-entry history are both readable
	got, err := repo.Get("conv-1")
	req.NoError(err)
	req.Equal(domain.StatusOpen, got.Status)
	req.Equal("Broken invoice", got.Subject)

	history, err := repo.History("conv-1")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("my invoice is wrong", history[0].Text)
	req.Equal(domain.RoleCustomer, history[0].SenderRole)

	// And creating the same id again is refused
	req.Error(repo.Create(conv, first))
}

func TestConversationRepository_GetUnknown(t *testing.T) {
	req := require.New(t)
	repo := repositories.NewConversationRepository(openDB(t), slog.Default())

	_, err := repo.Get("nope")
	req.ErrorIs(err, herrors.ErrConversationNotFound)

	_, err = repo.AppendMessage("nope", newMessage("nope", "x", domain.RoleAgent, time.Now()), domain.Patch{})
	req.ErrorIs(err, herrors.ErrConversationNotFound)

	_, err = repo.Update("nope", domain.Patch{})
	req.ErrorIs(err, herrors.ErrConversationNotFound)
}

func TestConversationRepository_HistoryKeepsInsertionOrder(t *testing.T) {
	// Given a conversation with several appended messages
	req := require.New(t)
	repo := repositories.NewConversationRepository(openDB(t), slog.Default())
	conv := newConversation("conv-1")
	base := conv.CreatedAt
	req.NoError(repo.Create(conv, newMessage("conv-1", "msg-0", domain.RoleCustomer, base)))

	for i := 1; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Millisecond)
		_, err := repo.AppendMessage("conv-1", newMessage("conv-1", fmt.Sprintf("msg-%d", i), domain.RoleAgent, at), domain.Patch{LastMessageAt: &at})
		req.NoError(err)
	}

	// When the history is read back
	history, err := repo.History("conv-1")

	// Then the entries come back in append order
	req.NoError(err)
	req.Len(history, 5)
	for i, msg := range history {
		req.Equal(fmt.Sprintf("msg-%d", i), msg.Text)
	}
}

func TestConversationRepository_AppendPatchesAtomically(t *testing.T) {
	// Given an open conversation
	req := require.New(t)
	repo := repositories.NewConversationRepository(openDB(t), slog.Default())
	conv := newConversation("conv-1")
	req.NoError(repo.Create(conv, newMessage("conv-1", "hello", domain.RoleCustomer, conv.CreatedAt)))

	// When an append carries a status and timestamp patch
	at := conv.CreatedAt.Add(time.Second)
	status := domain.StatusInProgress
	updated, err := repo.AppendMessage("conv-1",
		newMessage("conv-1", "looking into it", domain.RoleAgent, at),
		domain.Patch{Status: &status, LastMessageAt: &at})

	// Then the returned record reflects both the message and the patch
	req.NoError(err)
	req.Equal(domain.StatusInProgress, updated.Status)
	req.True(updated.LastMessageAt.Equal(at))

	history, err := repo.History("conv-1")
	req.NoError(err)
	req.Len(history, 2)
}

func TestConversationRepository_ConcurrentAppendsBothSurvive(t *testing.T) {
	// Given an existing conversation
	req := require.New(t)
	repo := repositories.NewConversationRepository(openDB(t), slog.Default())
	conv := newConversation("conv-1")
	req.NoError(repo.Create(conv, newMessage("conv-1", "hello", domain.RoleCustomer, conv.CreatedAt)))

	// When two writers append at the same time
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := time.Now().UTC()
			_, errs[i] = repo.AppendMessage("conv-1",
				newMessage("conv-1", fmt.Sprintf("concurrent-%d", i), domain.RoleAgent, at),
				domain.Patch{LastMessageAt: &at})
		}(i)
	}
	wg.Wait()

	// Then neither write is lost
	req.NoError(errs[0])
	req.NoError(errs[1])
	history, err := repo.History("conv-1")
	req.NoError(err)
	req.Len(history, 3)
}

func TestConversationRepository_RoundTripsFileMessages(t *testing.T) {
	req := require.New(t)
	repo := repositories.NewConversationRepository(openDB(t), slog.Default())
	conv := newConversation("conv-1")

	first := newMessage("conv-1", "", domain.RoleCustomer, conv.CreatedAt)
	first.File = &domain.FileInfo{
		URL:      "https://cdn.example/invoice.pdf",
		Name:     "invoice.pdf",
		MimeType: "application/pdf",
		Size:     1234,
	}
	req.NoError(repo.Create(conv, first))

	history, err := repo.History("conv-1")
	req.NoError(err)
	req.Len(history, 1)
	req.NotNil(history[0].File)
	req.Equal("invoice.pdf", history[0].File.Name)
	req.Equal(int64(1234), history[0].File.Size)
}

func TestConversationRepository_ListFilters(t *testing.T) {
	// Given conversations in different states with different agents
	req := require.New(t)
	repo := repositories.NewConversationRepository(openDB(t), slog.Default())

	seed := func(id string, status domain.Status, agentID, customerID string) {
		conv := newConversation(id)
		conv.Status = status
		conv.AgentID = agentID
		conv.CustomerID = customerID
		req.NoError(repo.Create(conv, newMessage(id, "hi", domain.RoleCustomer, conv.CreatedAt)))
	}
	seed("conv-1", domain.StatusOpen, "", "cust-1")
	seed("conv-2", domain.StatusInProgress, "agent-1", "cust-1")
	seed("conv-3", domain.StatusInProgress, "agent-2", "cust-2")
	seed("conv-4", domain.StatusClosed, "agent-1", "cust-2")

	// When listing with filters
	all, err := repo.List(domain.Filter{})
	req.NoError(err)
	req.Len(all, 4)

	inProgress := domain.StatusInProgress
	byStatus, err := repo.List(domain.Filter{Status: &inProgress})
	req.NoError(err)
	req.Len(byStatus, 2)

	agent := "agent-1"
	byAgent, err := repo.List(domain.Filter{AgentID: &agent})
	req.NoError(err)
	req.Len(byAgent, 2)

	customer := "cust-1"
	byCustomer, err := repo.List(domain.Filter{Status: &inProgress, CustomerID: &customer})
	req.NoError(err)
	req.Len(byCustomer, 1)
	req.Equal("conv-2", byCustomer[0].ID)
}
