package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gramfix/gramfix/internal/domain"
	"github.com/gramfix/gramfix/internal/service"
)

// NotificationHandler exposes the authenticated user's notification feed.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// Register mounts the notification routes onto the given group.
func (h *NotificationHandler) Register(g *echo.Group) {
	g.GET("/notifications", h.List)
	g.POST("/notifications/:id/read", h.MarkRead)
	g.DELETE("/notifications", h.ClearAll)
}

// List returns the actor's notifications, newest first.
func (h *NotificationHandler) List(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	notifications, err := h.notifications.List(c.Request().Context(), actor.ID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, notifications)
}

// MarkRead acknowledges a single notification.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	if err := h.notifications.MarkRead(c.Request().Context(), actor.ID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearAll removes every notification for the actor.
func (h *NotificationHandler) ClearAll(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	if err := h.notifications.ClearAll(c.Request().Context(), actor.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
