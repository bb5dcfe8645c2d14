package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gramfix/gramfix/internal/domain"
	"github.com/gramfix/gramfix/internal/service"
)

// KarmaHandler exposes the authenticated user's karma ledger.
type KarmaHandler struct {
	karma *service.KarmaService
}

// NewKarmaHandler creates a new KarmaHandler.
func NewKarmaHandler(karma *service.KarmaService) *KarmaHandler {
	return &KarmaHandler{karma: karma}
}

// Register mounts the karma routes onto the given group.
func (h *KarmaHandler) Register(g *echo.Group) {
	g.GET("/karma", h.Get)
}

type karmaResponse struct {
	Total   int                 `json:"total"`
	History []domain.KarmaEntry `json:"history"`
}

// Get returns the actor's running total and full ledger history.
func (h *KarmaHandler) Get(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	ctx := c.Request().Context()

	total, err := h.karma.Total(ctx, actor.ID)
	if err != nil {
		return err
	}
	history, err := h.karma.History(ctx, actor.ID)
	if err != nil {
		return err
	}

	return JSON(c, http.StatusOK, karmaResponse{Total: total, History: history})
}
