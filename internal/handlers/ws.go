package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/crewdesk/crewdesk/internal/auth"
	"github.com/crewdesk/crewdesk/internal/push"
)

// WSHandler upgrades dashboard connections and hands them to the push hub.
type WSHandler struct {
	hub      *push.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(log *slog.Logger, hub *push.Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The JWT on the upgrade request is the access control; the
			// origin check adds nothing for token-bearing clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "ws")),
	}
}

func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/api/ws", h.Connect)
}

// Connect upgrades the request and serves it until the client disconnects.
func (h *WSHandler) Connect(c echo.Context) error {
	id, err := auth.IdentityFromContext(c)
	if err != nil {
		return err
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger.Debug("websocket upgraded", slog.String("agent_id", id.AgentID))
	h.hub.Serve(c.Request().Context(), conn, id.AccountID, id.AgentID)
	return nil
}
