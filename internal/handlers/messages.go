package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crewdesk/crewdesk/internal/auth"
	"github.com/crewdesk/crewdesk/internal/message"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

// MessageHandler exposes message creation and listing within a conversation.
type MessageHandler struct {
	store    store.Store
	messages *message.Service
	logger   *slog.Logger
}

func NewMessageHandler(log *slog.Logger, st store.Store, messages *message.Service) *MessageHandler {
	return &MessageHandler{
		store:    st,
		messages: messages,
		logger:   log.With(slog.String("handler", "messages")),
	}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	g := e.Group("/api/conversations/:conversation_id/messages")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.POST("/:id/status", h.UpdateStatus)
}

func (h *MessageHandler) requester(c echo.Context) (models.Agent, error) {
	id, err := auth.IdentityFromContext(c)
	if err != nil {
		return models.Agent{}, err
	}
	agent, err := h.store.GetAgent(c.Request().Context(), id.AgentID)
	if err != nil {
		return models.Agent{}, echo.NewHTTPError(http.StatusUnauthorized, "unknown agent")
	}
	return agent, nil
}

func (h *MessageHandler) List(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	messages, err := h.messages.List(c.Request().Context(), agent.AccountID, c.Param("conversation_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

type createMessageRequest struct {
	Type        string              `json:"type" validate:"required"`
	Content     string              `json:"content"`
	ContentType string              `json:"content_type"`
	Private     bool                `json:"private"`
	Attachments []models.Attachment `json:"attachments"`
}

// Create persists an agent-authored message. Incoming messages arrive here
// too when a channel adapter relays contact traffic through the API.
func (h *MessageHandler) Create(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sender := models.AgentSender(agent)
	if req.Type == models.MessageTypeIncoming {
		conv, err := h.store.GetConversation(c.Request().Context(), agent.AccountID, c.Param("conversation_id"))
		if err != nil {
			return httpError(err)
		}
		contact, err := h.store.GetContact(c.Request().Context(), agent.AccountID, conv.ContactID)
		if err != nil {
			return httpError(err)
		}
		sender = models.ContactSender(contact)
	}

	msg, err := h.messages.Create(c.Request().Context(), message.CreateParams{
		AccountID:      agent.AccountID,
		ConversationID: c.Param("conversation_id"),
		Type:           req.Type,
		Content:        req.Content,
		ContentType:    req.ContentType,
		Private:        req.Private,
		Sender:         sender,
		Attachments:    req.Attachments,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

type updateMessageStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *MessageHandler) UpdateStatus(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	var req updateMessageStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := h.messages.UpdateStatus(c.Request().Context(), agent.AccountID, c.Param("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg)
}
