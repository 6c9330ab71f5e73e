// Package httpapi mounts the REST surface around the session core:
// conversation creation and listing, assignment and status actions that
// feed the state machine, message search, and the websocket upgrade.
package httpapi

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"

	"helpdesk/contract"
	"helpdesk/domain"
	herrors "helpdesk/errors"
	"helpdesk/gateway"
	"helpdesk/observability"
	"helpdesk/protocol"
	"helpdesk/search"
)

const identityKey = "identity"

var validate = validator.New()

type API struct {
	log      *slog.Logger
	verifier contract.IVerifier
	gateway  *gateway.Gateway
	store    contract.IConversationStore
	index    *search.Index
	socket   *gateway.SocketHandler
	stats    *observability.Stats
}

func New(log *slog.Logger, verifier contract.IVerifier, gw *gateway.Gateway,
	store contract.IConversationStore, index *search.Index,
	socket *gateway.SocketHandler, stats *observability.Stats) *API {
	return &API{
		log:      log,
		verifier: verifier,
		gateway:  gw,
		store:    store,
		index:    index,
		socket:   socket,
		stats:    stats,
	}
}

func (a *API) Register(app *fiber.App) {
	app.Get("/healthz", a.health)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(a.socket.Handle))

	api := app.Group("/api", a.authenticate)
	api.Post("/conversations", a.createConversation)
	api.Get("/conversations", a.listConversations)
	api.Get("/conversations/:id", a.getConversation)
	api.Post("/conversations/:id/assign", a.assignAgent)
	api.Post("/conversations/:id/status", a.updateStatus)
	api.Get("/search", a.searchMessages)
}

// authenticate resolves the bearer credential into an identity snapshot for
// the request. The websocket path authenticates separately at upgrade time.
func (a *API) authenticate(c *fiber.Ctx) error {
	identity, err := a.verifier.Verify(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return a.fail(c, err)
	}
	c.Locals(identityKey, identity)
	return c.Next()
}

func identityFrom(c *fiber.Ctx) domain.Identity {
	identity, _ := c.Locals(identityKey).(domain.Identity)
	return identity
}

func (a *API) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"stats":  a.stats.Snapshot(),
	})
}

type createConversationRequest struct {
	Subject string                  `json:"subject" validate:"max=200"`
	Content protocol.MessageContent `json:"content"`
}

func (a *API) createConversation(c *fiber.Ctx) error {
	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	conv, err := a.gateway.CreateConversation(c.Context(), identityFrom(c), req.Subject, req.Content)
	if err != nil {
		return a.fail(c, err)
	}
	history, err := a.store.History(conv.ID)
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(protocol.Snapshot(conv, history))
}

func (a *API) listConversations(c *fiber.Ctx) error {
	identity := identityFrom(c)

	var filter domain.Filter
	if identity.Role.IsStaff() {
		if status := c.Query("status"); status != "" {
			s := domain.Status(status)
			if !s.Valid() {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown status"})
			}
			filter.Status = &s
		}
		if agentID := c.Query("agent_id"); agentID != "" {
			filter.AgentID = &agentID
		}
	} else {
		// Customers only ever see their own conversations.
		filter.CustomerID = &identity.UserID
	}

	conversations, err := a.store.List(filter)
	if err != nil {
		return a.fail(c, err)
	}

	out := make([]protocol.ConversationSnapshot, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, protocol.Snapshot(conv, nil))
	}
	return c.JSON(out)
}

func (a *API) getConversation(c *fiber.Ctx) error {
	identity := identityFrom(c)
	conv, err := a.store.Get(c.Params("id"))
	if err != nil {
		return a.fail(c, err)
	}
	if !conv.AccessibleBy(identity) {
		return a.fail(c, herrors.ErrForbidden)
	}
	history, err := a.store.History(conv.ID)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(protocol.Snapshot(conv, history))
}

type assignRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
}

func (a *API) assignAgent(c *fiber.Ctx) error {
	var req assignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	conv, err := a.gateway.AssignAgent(c.Context(), identityFrom(c), c.Params("id"), req.AgentID)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(protocol.Snapshot(conv, nil))
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=open assigned in_progress pending_customer resolved closed"`
}

func (a *API) updateStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	conv, err := a.gateway.UpdateStatus(c.Context(), identityFrom(c), c.Params("id"), domain.Status(req.Status))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(protocol.Snapshot(conv, nil))
}

func (a *API) searchMessages(c *fiber.Ctx) error {
	identity := identityFrom(c)
	if !identity.Role.IsStaff() {
		return a.fail(c, herrors.ErrForbidden)
	}
	terms := c.Query("q")
	if terms == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing query"})
	}
	limit := lo.Clamp(c.QueryInt("limit", 20), 1, 100)

	hits, err := a.index.Search(c.Context(), terms, c.Query("conversation_id"), limit)
	if err != nil {
		return a.fail(c, err)
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return c.JSON(hits)
}

func (a *API) fail(c *fiber.Ctx, err error) error {
	status := herrors.MapToHTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		a.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
