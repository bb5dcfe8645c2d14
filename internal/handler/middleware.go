package handler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gramfix/gramfix/internal/domain"
	"github.com/gramfix/gramfix/internal/service"
)

const contextKeyActor = "actor"

// RequestLogger logs each HTTP request with structured fields.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)

			return err
		}
	}
}

// JWTAuth validates the Bearer token, loads the user, and injects the
// resulting actor into echo context. Every operation downstream receives
// the actor explicitly; nothing reads ambient session state.
func JWTAuth(auth *service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return domain.ErrUnauthorized
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				return domain.ErrUnauthorized
			}

			userID, err := auth.ValidateToken(parts[1])
			if err != nil {
				return domain.ErrUnauthorized
			}

			actor, err := auth.ActorFor(c.Request().Context(), userID)
			if err != nil {
				return domain.ErrUnauthorized
			}

			c.Set(contextKeyActor, actor)
			return next(c)
		}
	}
}

// GetActor extracts the authenticated actor from echo context.
func GetActor(c echo.Context) (domain.Actor, bool) {
	actor, ok := c.Get(contextKeyActor).(domain.Actor)
	return actor, ok
}
