//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"helpdesk/domain"
	"helpdesk/domain/event"
	"helpdesk/protocol"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself; the supervisor restarts it after a panic.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ClientSink delivers outbound protocol events to one live connection.
// Delivery is best-effort: a full connection buffer drops the event rather
// than blocking the caller.
type ClientSink interface {
	Consume(ctx context.Context, e protocol.Event) error
}

// EventSink consumes persisted-side-effect events in process.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IPresence is the in-memory index of live connections and room membership.
// It is rebuilt from nothing on restart; nothing here is persisted.
type IPresence interface {
	Register(connID string, identity domain.Identity, sink ClientSink) error
	Join(connID, conversationID string)
	Leave(connID, conversationID string)
	IsJoined(connID, conversationID string) bool
	Participants(conversationID string) []domain.Identity
	Members(conversationID string) []Member
	Sink(connID string) (ClientSink, bool)
	Deregister(connID string) []string
}

// Member pairs a joined connection with its identity snapshot and sink.
type Member struct {
	ConnID   string
	Identity domain.Identity
	Sink     ClientSink
}

// IVerifier validates a bearer credential and yields the connection's
// identity snapshot. It fails closed on inactive or blocked accounts.
type IVerifier interface {
	Verify(credential string) (domain.Identity, error)
}

// IConversationStore is the durable record of conversations and their
// ordered history. Appends are single-conversation atomic operations.
type IConversationStore interface {
	Create(conv domain.Conversation, first domain.Message) error
	Get(id string) (domain.Conversation, error)
	History(id string) ([]domain.Message, error)
	AppendMessage(id string, msg domain.Message, patch domain.Patch) (domain.Conversation, error)
	Update(id string, patch domain.Patch) (domain.Conversation, error)
	List(filter domain.Filter) ([]domain.Conversation, error)
}

// IUserStore resolves stored account records for the verifier and for
// assignment lookups.
type IUserStore interface {
	Create(user domain.User) error
	Get(id string) (domain.User, error)
}

// ISummarizer produces a short text summary of a conversation history.
type ISummarizer interface {
	Summarize(ctx context.Context, conv domain.Conversation, history []domain.Message) (string, error)
}
