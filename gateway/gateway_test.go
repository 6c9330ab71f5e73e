package gateway_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"helpdesk/domain"
	"helpdesk/domain/event"
	herrors "helpdesk/errors"
	"helpdesk/gateway"
	"helpdesk/moderation"
	"helpdesk/observability"
	"helpdesk/presence"
	"helpdesk/protocol"
	"helpdesk/repositories"
)

type captureSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *captureSink) Consume(_ context.Context, e protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) byName(name string) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Event
	for _, e := range s.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fixture struct {
	gw       *gateway.Gateway
	store    *repositories.ConversationRepository
	users    *repositories.UserRepository
	registry *presence.Registry
	events   chan event.DomainEvent
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithPolicy(t, domain.StatusPolicy{})
}

func newFixtureWithPolicy(t *testing.T, policy domain.StatusPolicy) *fixture {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	f := &fixture{
		store:    repositories.NewConversationRepository(db, log),
		users:    repositories.NewUserRepository(db),
		registry: presence.NewRegistry(),
		events:   make(chan event.DomainEvent, 32),
	}
	moderator, err := moderation.NewModerator([]string{"badword"}, '*')
	require.NoError(t, err)
	f.gw = gateway.NewGateway(log, f.store, f.users, f.registry, moderator,
		observability.NewStats(), f.events, policy)
	return f
}

func (f *fixture) connect(t *testing.T, connID string, identity domain.Identity) *captureSink {
	t.Helper()
	sink := &captureSink{}
	require.NoError(t, f.gw.Connect(context.Background(), connID, identity, sink))
	return sink
}

func (f *fixture) drainEvents() []event.DomainEvent {
	var out []event.DomainEvent
	for {
		select {
		case e := <-f.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

var (
	customer = domain.Identity{UserID: "cust-1", DisplayName: "Carla", Role: domain.RoleCustomer}
	agent    = domain.Identity{UserID: "agent-1", DisplayName: "Alice", Role: domain.RoleAgent}
)

func TestConnect_AcknowledgesConnection(t *testing.T) {
	// Given an authenticated identity
	req := require.New(t)
	f := newFixture(t)

	// When it connects
	sink := f.connect(t, "conn-1", customer)

	// Then it receives exactly one acknowledgement
	acks := sink.byName(protocol.EventConnectionAck)
	req.Len(acks, 1)
	req.Equal("cust-1", acks[0].Data.(protocol.ConnectionAck).UserID)

	// And a second registration under the same connection id fails
	req.Error(f.gw.Connect(context.Background(), "conn-1", customer, &captureSink{}))
}

func TestJoin_DeliversSnapshotAndNotifiesRoom(t *testing.T) {
	// Given a conversation opened by the customer
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "my invoice is wrong"})
	req.NoError(err)

	// When the customer joins first
	customerSink := f.connect(t, "conn-c", customer)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))

	// Then they get the full snapshot and a one-entry participant roster
	joined := customerSink.byName(protocol.EventConversationJoined)
	req.Len(joined, 1)
	snapshot := joined[0].Data.(protocol.ConversationSnapshot)
	req.Equal(conv.ID, snapshot.ID)
	req.Equal(string(domain.StatusOpen), snapshot.Status)
	req.Len(snapshot.Messages, 1)
	req.Equal("my invoice is wrong", snapshot.Messages[0].Text)

	roster := customerSink.byName(protocol.EventParticipantUpdate)
	req.Len(roster, 1)
	req.Len(roster[0].Data.(protocol.ParticipantUpdate).Participants, 1)

	// And the joiner never sees their own join notice
	req.Empty(customerSink.byName(protocol.EventSystemMessage))

	// When an agent joins afterwards
	agentSink := f.connect(t, "conn-a", agent)
	req.NoError(f.gw.Join(ctx, "conn-a", agent, conv.ID))

	// Then the customer sees the updated roster and the join notice
	roster = customerSink.byName(protocol.EventParticipantUpdate)
	req.Len(roster, 2)
	req.Len(roster[1].Data.(protocol.ParticipantUpdate).Participants, 2)
	notices := customerSink.byName(protocol.EventSystemMessage)
	req.Len(notices, 1)
	req.Contains(notices[0].Data.(protocol.SystemMessage).Text, "Alice has joined")

	// And the agent got the snapshot but not their own notice
	req.Len(agentSink.byName(protocol.EventConversationJoined), 1)
	req.Empty(agentSink.byName(protocol.EventSystemMessage))
}

func TestJoin_Rejections(t *testing.T) {
	// Given a conversation owned by one customer
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)

	stranger := domain.Identity{UserID: "cust-2", DisplayName: "Eve", Role: domain.RoleCustomer}
	f.connect(t, "conn-s", stranger)

	// Then an unknown id, a foreign customer, and a closed conversation all fail
	req.ErrorIs(f.gw.Join(ctx, "conn-s", stranger, "no-such-conversation"), herrors.ErrConversationNotFound)
	req.ErrorIs(f.gw.Join(ctx, "conn-s", stranger, conv.ID), herrors.ErrForbidden)

	_, err = f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusClosed)
	req.NoError(err)
	f.connect(t, "conn-c", customer)
	req.ErrorIs(f.gw.Join(ctx, "conn-c", customer, conv.ID), herrors.ErrConversationClosed)
}

func TestSendMessage_StaffReplyAdvancesStatus(t *testing.T) {
	// Given customer and agent both joined to an open conversation
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)

	customerSink := f.connect(t, "conn-c", customer)
	agentSink := f.connect(t, "conn-a", agent)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))
	req.NoError(f.gw.Join(ctx, "conn-a", agent, conv.ID))
	f.drainEvents()

	// When the agent replies
	req.NoError(f.gw.SendMessage(ctx, "conn-a", agent, conv.ID,
		protocol.MessageContent{Text: "looking into it"}))

	// Then both participants get the message and the status transition
	for _, sink := range []*captureSink{customerSink, agentSink} {
		messages := sink.byName(protocol.EventNewMessage)
		req.Len(messages, 1)
		req.Equal("looking into it", messages[0].Data.(protocol.MessageEntry).Text)

		updates := sink.byName(protocol.EventStatusUpdate)
		req.Len(updates, 1)
		req.Equal(string(domain.StatusInProgress),
			updates[0].Data.(protocol.StatusUpdate).Detail.NewStatus)
	}

	// And the store moved with the broadcast
	stored, err := f.store.Get(conv.ID)
	req.NoError(err)
	req.Equal(domain.StatusInProgress, stored.Status)

	emitted := f.drainEvents()
	req.Len(emitted, 2)
	_, ok := emitted[0].(event.MessageStored)
	req.True(ok)
	statusEvent, ok := emitted[1].(event.StatusChanged)
	req.True(ok)
	req.Equal(domain.StatusInProgress, statusEvent.NewStatus)
}

func TestSendMessage_CustomerNeverAdvancesStatus(t *testing.T) {
	// Given an open conversation with the customer joined
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	sink := f.connect(t, "conn-c", customer)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))

	// When the customer sends more messages
	req.NoError(f.gw.SendMessage(ctx, "conn-c", customer, conv.ID,
		protocol.MessageContent{Text: "still waiting"}))

	// Then the status is unchanged and no status update was broadcast
	stored, err := f.store.Get(conv.ID)
	req.NoError(err)
	req.Equal(domain.StatusOpen, stored.Status)
	req.Empty(sink.byName(protocol.EventStatusUpdate))
}

func TestSendMessage_EmptyContentRejectedWithoutSideEffects(t *testing.T) {
	// Given an open conversation
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	sink := f.connect(t, "conn-c", customer)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))
	before := sink.count()

	// When empty and whitespace-only content is sent
	err = f.gw.SendMessage(ctx, "conn-c", customer, conv.ID, protocol.MessageContent{})
	req.ErrorIs(err, herrors.ErrEmptyMessage)
	err = f.gw.SendMessage(ctx, "conn-c", customer, conv.ID, protocol.MessageContent{Text: "   "})
	req.ErrorIs(err, herrors.ErrEmptyMessage)

	// Then the history is untouched and nothing was broadcast
	history, err := f.store.History(conv.ID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(before, sink.count())
}

func TestSendMessage_MasksForbiddenWords(t *testing.T) {
	// Given an open conversation
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	sink := f.connect(t, "conn-c", customer)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))

	// When the message contains a forbidden word
	req.NoError(f.gw.SendMessage(ctx, "conn-c", customer, conv.ID,
		protocol.MessageContent{Text: "this badword service"}))

	// Then both the broadcast and the stored history carry the masked form
	messages := sink.byName(protocol.EventNewMessage)
	req.Len(messages, 1)
	req.Equal("this ******* service", messages[0].Data.(protocol.MessageEntry).Text)

	history, err := f.store.History(conv.ID)
	req.NoError(err)
	req.Equal("this ******* service", history[1].Text)
}

func TestSendMessage_AttachmentPolicy(t *testing.T) {
	// Given an open conversation
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	f.connect(t, "conn-c", customer)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))

	// Then an image reference passes and an executable is refused
	req.NoError(f.gw.SendMessage(ctx, "conn-c", customer, conv.ID, protocol.MessageContent{
		FileInfo: &protocol.FileInfo{URL: "https://cdn.example/a.png", Name: "a.png", MimeType: "image/png", Size: 10},
	}))
	err = f.gw.SendMessage(ctx, "conn-c", customer, conv.ID, protocol.MessageContent{
		FileInfo: &protocol.FileInfo{URL: "https://cdn.example/a.exe", Name: "a.exe", MimeType: "application/x-msdownload", Size: 10},
	})
	req.ErrorIs(err, herrors.ErrUnsupportedAttachment)
}

func TestTyping_BestEffortRelay(t *testing.T) {
	// Given two joined participants
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	customerSink := f.connect(t, "conn-c", customer)
	agentSink := f.connect(t, "conn-a", agent)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))
	req.NoError(f.gw.Join(ctx, "conn-a", agent, conv.ID))

	// When the agent signals typing
	f.gw.Typing(ctx, "conn-a", agent, conv.ID, true)
	f.gw.Typing(ctx, "conn-a", agent, conv.ID, false)

	// Then only the other participant receives the broadcasts
	req.Len(customerSink.byName(protocol.EventTypingStartBroadcast), 1)
	req.Len(customerSink.byName(protocol.EventTypingStopBroadcast), 1)
	req.Empty(agentSink.byName(protocol.EventTypingStartBroadcast))

	// And signals from a connection that never joined are dropped
	f.connect(t, "conn-x", agent)
	before := customerSink.count()
	f.gw.Typing(ctx, "conn-x", agent, conv.ID, true)
	req.Equal(before, customerSink.count())
}

func TestLeaveAndDisconnect_NarrateDeparture(t *testing.T) {
	// Given two joined participants
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	customerSink := f.connect(t, "conn-c", customer)
	f.connect(t, "conn-a", agent)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))
	req.NoError(f.gw.Join(ctx, "conn-a", agent, conv.ID))

	// When the agent leaves the room explicitly
	f.gw.Leave(ctx, "conn-a", agent, conv.ID)

	// Then the remaining participant sees the departure and the new roster
	notices := customerSink.byName(protocol.EventSystemMessage)
	req.Contains(notices[len(notices)-1].Data.(protocol.SystemMessage).Text, "Alice has left")
	rosters := customerSink.byName(protocol.EventParticipantUpdate)
	req.Len(rosters[len(rosters)-1].Data.(protocol.ParticipantUpdate).Participants, 1)

	// And leaving again is a silent no-op
	before := customerSink.count()
	f.gw.Leave(ctx, "conn-a", agent, conv.ID)
	req.Equal(before, customerSink.count())

	// When another agent connection joins and then drops entirely
	agentSink := f.connect(t, "conn-a2", agent)
	req.NoError(f.gw.Join(ctx, "conn-a2", agent, conv.ID))
	_ = agentSink
	f.gw.Disconnect(ctx, "conn-a2", agent)

	// Then the departure is narrated once more
	notices = customerSink.byName(protocol.EventSystemMessage)
	req.Contains(notices[len(notices)-1].Data.(protocol.SystemMessage).Text, "Alice has left")
	req.False(f.registry.IsJoined("conn-a2", conv.ID))
}

func TestAssignAgent(t *testing.T) {
	// Given an open conversation and a stored agent account
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	req.NoError(f.users.Create(domain.User{ID: "agent-1", DisplayName: "Alice", Role: domain.RoleAgent, Active: true}))
	req.NoError(f.users.Create(domain.User{ID: "cust-9", DisplayName: "Carl", Role: domain.RoleCustomer, Active: true}))
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)

	customerSink := f.connect(t, "conn-c", customer)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))

	// When an admin assigns the agent
	admin := domain.Identity{UserID: "admin-1", DisplayName: "Root", Role: domain.RoleAdmin}
	updated, err := f.gw.AssignAgent(ctx, admin, conv.ID, "agent-1")

	// Then the conversation is assigned and the room is told
	req.NoError(err)
	req.Equal(domain.StatusAssigned, updated.Status)
	req.Equal("agent-1", updated.AgentID)
	req.NotNil(updated.AssignedAt)

	assigned := customerSink.byName(protocol.EventConversationAssigned)
	req.Len(assigned, 1)
	detail := assigned[0].Data.(protocol.ConversationAssigned).Detail
	req.Equal("agent-1", detail.AgentID)
	req.Equal(string(domain.StatusAssigned), detail.NewStatus)

	// When the conversation moves on and is reassigned
	req.NoError(f.gw.SendMessage(ctx, "conn-c", customer, conv.ID, protocol.MessageContent{Text: "thanks"}))
	req.NoError(f.users.Create(domain.User{ID: "agent-2", DisplayName: "Bob", Role: domain.RoleAgent, Active: true}))
	reassigned, err := f.gw.AssignAgent(ctx, admin, conv.ID, "agent-2")

	// Then the agent changes but the status does not reset
	req.NoError(err)
	req.Equal("agent-2", reassigned.AgentID)
	req.Equal(domain.StatusAssigned, reassigned.Status)

	// And the failure modes hold
	_, err = f.gw.AssignAgent(ctx, customer, conv.ID, "agent-1")
	req.ErrorIs(err, herrors.ErrForbidden)
	_, err = f.gw.AssignAgent(ctx, admin, conv.ID, "nobody")
	req.ErrorIs(err, herrors.ErrUserNotFound)
	_, err = f.gw.AssignAgent(ctx, admin, conv.ID, "cust-9")
	req.ErrorIs(err, herrors.ErrForbidden)
}

func TestStatusLifecycle_ResolveThenClose(t *testing.T) {
	// Given an in-progress conversation
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	customerSink := f.connect(t, "conn-c", customer)
	f.connect(t, "conn-a", agent)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))
	req.NoError(f.gw.Join(ctx, "conn-a", agent, conv.ID))
	req.NoError(f.gw.SendMessage(ctx, "conn-a", agent, conv.ID, protocol.MessageContent{Text: "fixed it"}))

	// When the agent resolves and then closes
	resolved, err := f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusResolved)
	req.NoError(err)
	req.Equal(domain.StatusResolved, resolved.Status)
	req.NotNil(resolved.ResolvedAt)
	req.Nil(resolved.ClosedAt)

	closed, err := f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusClosed)
	req.NoError(err)
	req.Equal(domain.StatusClosed, closed.Status)
	req.NotNil(closed.ClosedAt)
	req.True(resolved.ResolvedAt.Equal(*closed.ResolvedAt))
	req.False(closed.ClosedAt.Before(*closed.ResolvedAt))

	// Then the room heard both transitions
	updates := customerSink.byName(protocol.EventStatusUpdate)
	last := updates[len(updates)-1].Data.(protocol.StatusUpdate)
	req.Equal(string(domain.StatusClosed), last.Detail.NewStatus)

	// And the closed conversation refuses everything
	err = f.gw.SendMessage(ctx, "conn-c", customer, conv.ID, protocol.MessageContent{Text: "one more thing"})
	req.ErrorIs(err, herrors.ErrConversationClosed)
	_, err = f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusOpen)
	req.ErrorIs(err, herrors.ErrConversationClosed)
	_, err = f.gw.AssignAgent(ctx, agent, conv.ID, "agent-1")
	req.ErrorIs(err, herrors.ErrConversationClosed)
}

func TestUpdateStatus_RepeatedTargetIsQuiet(t *testing.T) {
	// Given a resolved conversation with a joined participant
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	sink := f.connect(t, "conn-c", customer)
	req.NoError(f.gw.Join(ctx, "conn-c", customer, conv.ID))
	_, err = f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusResolved)
	req.NoError(err)
	updates := len(sink.byName(protocol.EventStatusUpdate))
	f.drainEvents()

	// When the same status is requested again
	repeated, err := f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusResolved)

	// Then the request succeeds but nothing is re-broadcast or re-emitted
	req.NoError(err)
	req.Equal(domain.StatusResolved, repeated.Status)
	req.Len(sink.byName(protocol.EventStatusUpdate), updates)
	req.Empty(f.drainEvents())
}

func TestUpdateStatus_CustomerRules(t *testing.T) {
	// Given a resolved conversation
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	_, err = f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusResolved)
	req.NoError(err)

	// Then the customer may not resolve, close, or reopen by default
	_, err = f.gw.UpdateStatus(ctx, customer, conv.ID, domain.StatusClosed)
	req.ErrorIs(err, herrors.ErrForbidden)
	_, err = f.gw.UpdateStatus(ctx, customer, conv.ID, domain.StatusOpen)
	req.ErrorIs(err, herrors.ErrForbidden)
}

func TestUpdateStatus_CustomerReopenWhenEnabled(t *testing.T) {
	// Given reopening is enabled and a conversation was resolved
	req := require.New(t)
	f := newFixtureWithPolicy(t, domain.StatusPolicy{AllowCustomerReopen: true})
	ctx := context.Background()
	conv, err := f.gw.CreateConversation(ctx, customer, "Billing issue",
		protocol.MessageContent{Text: "help"})
	req.NoError(err)
	_, err = f.gw.UpdateStatus(ctx, agent, conv.ID, domain.StatusResolved)
	req.NoError(err)

	// When the customer reopens
	reopened, err := f.gw.UpdateStatus(ctx, customer, conv.ID, domain.StatusOpen)

	// Then the conversation is open again
	req.NoError(err)
	req.Equal(domain.StatusOpen, reopened.Status)
}

func TestCreateConversation_StaffForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.gw.CreateConversation(context.Background(), agent, "Subject",
		protocol.MessageContent{Text: "hi"})
	req.ErrorIs(err, herrors.ErrForbidden)
}
