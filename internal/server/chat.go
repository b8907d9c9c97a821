package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lexpilot/seatwise/internal/chat"
	"github.com/lexpilot/seatwise/internal/store"
)

type ChatHandler struct {
	Store *store.Store
	Chat  *chat.Service
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.GET("/:id/chat/messages", h.history)
	g.POST("/:id/chat/messages", h.send)
}

// Chat history
//
//	@Summary		List a project's chat messages
//	@Description	Seeds a blocker-explanation assistant message when the project awaits intervention and the history is empty
//	@Tags			chat
//	@Produce		json
//	@Success		200	{array}	MessageResponse
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id}/chat/messages [get]
func (h *ChatHandler) history(c echo.Context) error {
	userID := c.Get("user_id").(string)
	project, found, err := h.Store.GetProject(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	messages, err := h.Chat.History(c.Request().Context(), project)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, out)
}

// Send chat message
//
//	@Summary		Send a chat message
//	@Description	Handles scenario assumptions, deterministic blocker questions, grounded replies, and regeneration requests
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	ChatResponse
//	@Failure		400	{object}	HTTPError
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id}/chat/messages [post]
func (h *ChatHandler) send(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	project, found, err := h.Store.GetProject(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}

	userMsg, assistantMsg, err := h.Chat.Handle(c.Request().Context(), project, req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ChatResponse{
		User:      toMessageResponse(userMsg),
		Assistant: toMessageResponse(assistantMsg),
	})
}
