package gateway

import (
	"context"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"helpdesk/contract"
	"helpdesk/domain"
	"helpdesk/observability"
	"helpdesk/protocol"
)

// SocketHandler pumps frames for one websocket connection: authenticate
// first, then a read loop dispatching inbound events and a write pump
// draining the connection's sink. Per-event errors become scoped
// error_message frames; only authentication failures terminate the
// connection itself.
type SocketHandler struct {
	log        *slog.Logger
	verifier   contract.IVerifier
	gateway    *Gateway
	stats      *observability.Stats
	bufferSize int
}

func NewSocketHandler(log *slog.Logger, verifier contract.IVerifier,
	gateway *Gateway, stats *observability.Stats, bufferSize int) *SocketHandler {
	return &SocketHandler{
		log:        log,
		verifier:   verifier,
		gateway:    gateway,
		stats:      stats,
		bufferSize: bufferSize,
	}
}

// Handle runs the full connection lifecycle. It blocks until the client
// disconnects or the read loop fails.
func (h *SocketHandler) Handle(c *websocket.Conn) {
	identity, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		// Fail closed: no room access is possible before this point.
		_ = c.WriteJSON(protocol.NewError("", err.Error()))
		_ = c.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connID := uuid.NewString()
	sink := NewConnSink(h.bufferSize, h.stats)

	if err := h.gateway.Connect(ctx, connID, identity, sink); err != nil {
		h.log.Error("connection registration failed", "conn_id", connID, "error", err)
		_ = c.Close()
		return
	}
	defer h.gateway.Disconnect(context.Background(), connID, identity)

	go h.writePump(ctx, cancel, c, sink)

	h.log.Info("connection established",
		"conn_id", connID, "user_id", identity.UserID, "role", identity.Role)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			h.log.Debug("connection closed", "conn_id", connID, "error", err)
			return
		}
		h.dispatch(ctx, connID, identity, sink, raw)
	}
}

func (h *SocketHandler) writePump(ctx context.Context, cancel context.CancelFunc,
	c *websocket.Conn, sink *ConnSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sink.Events():
			if err := c.WriteJSON(ev); err != nil {
				cancel()
				return
			}
		}
	}
}

// dispatch routes one decoded inbound event to its handler. Every error is
// caught here and converted to a scoped error_message; it never crashes the
// connection or the process.
func (h *SocketHandler) dispatch(ctx context.Context, connID string,
	identity domain.Identity, sink *ConnSink, raw []byte) {
	cmd, err := protocol.Decode(raw)
	if err != nil {
		h.sendError(ctx, sink, "", err.Error())
		return
	}

	switch c := cmd.(type) {
	case protocol.JoinConversation:
		err = h.gateway.Join(ctx, connID, identity, c.ConversationID)
	case protocol.SendMessage:
		err = h.gateway.SendMessage(ctx, connID, identity, c.ConversationID, c.Content)
	case protocol.TypingStart:
		h.gateway.Typing(ctx, connID, identity, c.ConversationID, true)
	case protocol.TypingStop:
		h.gateway.Typing(ctx, connID, identity, c.ConversationID, false)
	case protocol.LeaveConversation:
		h.gateway.Leave(ctx, connID, identity, c.ConversationID)
	}

	if err != nil {
		h.sendError(ctx, sink, cmd.Conversation(), err.Error())
	}
}

func (h *SocketHandler) sendError(ctx context.Context, sink *ConnSink, conversationID, message string) {
	h.stats.ScopedError()
	_ = sink.Consume(ctx, protocol.NewError(conversationID, message))
}
