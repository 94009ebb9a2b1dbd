package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/crewdesk/crewdesk/internal/auth"
	"github.com/crewdesk/crewdesk/internal/conversation"
	"github.com/crewdesk/crewdesk/internal/finder"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

// ConversationHandler exposes conversation listing and lifecycle endpoints.
type ConversationHandler struct {
	store         store.Store
	conversations *conversation.Service
	finder        *finder.Finder
	logger        *slog.Logger
}

func NewConversationHandler(log *slog.Logger, st store.Store, convs *conversation.Service, fnd *finder.Finder) *ConversationHandler {
	return &ConversationHandler{
		store:         st,
		conversations: convs,
		finder:        fnd,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	g := e.Group("/api/conversations")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/toggle_status", h.ToggleStatus)
	g.POST("/:id/assignments", h.UpdateAssignee)
	g.POST("/:id/labels", h.UpdateLabels)
	g.POST("/:id/mute", h.Mute)
	g.POST("/:id/unmute", h.Unmute)
	g.POST("/:id/read", h.MarkRead)
	g.POST("/:id/lock", h.Lock)
	g.POST("/:id/unlock", h.Unlock)
}

// requester resolves the authenticated agent record.
func (h *ConversationHandler) requester(c echo.Context) (models.Agent, error) {
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

// List returns one page of conversations visible to the requester.
func (h *ConversationHandler) List(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	params := finder.Params{
		Status:       c.QueryParam("status"),
		AssigneeType: c.QueryParam("assignee_type"),
		TeamID:       c.QueryParam("team_id"),
		Page:         page,
	}
	if labels := c.QueryParam("labels"); labels != "" {
		params.Labels = strings.Split(labels, ",")
	}
	result, err := h.finder.Find(c.Request().Context(), agent, params)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type createConversationRequest struct {
	InboxID   string   `json:"inbox_id" validate:"required"`
	ContactID string   `json:"contact_id" validate:"required"`
	TeamID    string   `json:"team_id"`
	Labels    []string `json:"labels"`

	AdditionalAttributes map[string]any `json:"additional_attributes"`
}

func (h *ConversationHandler) Create(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.conversations.Create(c.Request().Context(), conversation.CreateParams{
		AccountID:            agent.AccountID,
		InboxID:              req.InboxID,
		ContactID:            req.ContactID,
		TeamID:               req.TeamID,
		Labels:               req.Labels,
		AdditionalAttributes: req.AdditionalAttributes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.Get(c.Request().Context(), agent.AccountID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) ToggleStatus(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.ToggleStatus(c.Request().Context(), agent.AccountID, c.Param("id"), models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type updateAssigneeRequest struct {
	AssigneeID string `json:"assignee_id"`
}

func (h *ConversationHandler) UpdateAssignee(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	var req updateAssigneeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.conversations.UpdateAssignee(c.Request().Context(), agent.AccountID, c.Param("id"), req.AssigneeID, models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type updateLabelsRequest struct {
	Labels []string `json:"labels"`
}

func (h *ConversationHandler) UpdateLabels(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	var req updateLabelsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.conversations.UpdateLabels(c.Request().Context(), agent.AccountID, c.Param("id"), req.Labels, models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Mute(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.Mute(c.Request().Context(), agent.AccountID, c.Param("id"), models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Unmute(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.Unmute(c.Request().Context(), agent.AccountID, c.Param("id"), models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.MarkRead(c.Request().Context(), agent.AccountID, c.Param("id"), models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Lock(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.Lock(c.Request().Context(), agent.AccountID, c.Param("id"), models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Unlock(c echo.Context) error {
	agent, err := h.requester(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.Unlock(c.Request().Context(), agent.AccountID, c.Param("id"), models.AgentSender(agent))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}
