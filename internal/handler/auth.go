package handler

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gramfix/gramfix/internal/domain"
	"github.com/gramfix/gramfix/internal/service"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterPublic mounts the unauthenticated auth routes.
func (h *AuthHandler) RegisterPublic(g *echo.Group) {
	g.GET("/auth/google", h.GoogleRedirect)
	g.GET("/auth/google/callback", h.GoogleCallback)
	g.GET("/auth/github", h.GitHubRedirect)
	g.GET("/auth/github/callback", h.GitHubCallback)
	g.POST("/auth/refresh", h.Refresh)
}

// RegisterProtected mounts the authenticated auth routes.
func (h *AuthHandler) RegisterProtected(g *echo.Group) {
	g.GET("/auth/me", h.Me)
}

// GoogleRedirect redirects the user to Google's OAuth consent page.
func (h *AuthHandler) GoogleRedirect(c echo.Context) error {
	state := generateState()
	setStateCookie(c, state)
	return c.Redirect(http.StatusTemporaryRedirect, h.auth.GoogleAuthURL(state))
}

// GoogleCallback handles the OAuth callback from Google.
func (h *AuthHandler) GoogleCallback(c echo.Context) error {
	if err := validateOAuthState(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	code := c.QueryParam("code")
	if code == "" {
		return fmt.Errorf("%w: missing code parameter", domain.ErrInvalidInput)
	}

	user, tokens, err := h.auth.GoogleCallback(c.Request().Context(), code)
	if err != nil {
		return err
	}

	return JSON(c, http.StatusOK, map[string]any{
		"user":   user,
		"tokens": tokens,
	})
}

// GitHubRedirect redirects the user to GitHub's OAuth consent page.
func (h *AuthHandler) GitHubRedirect(c echo.Context) error {
	state := generateState()
	setStateCookie(c, state)
	return c.Redirect(http.StatusTemporaryRedirect, h.auth.GitHubAuthURL(state))
}

// GitHubCallback handles the OAuth callback from GitHub.
func (h *AuthHandler) GitHubCallback(c echo.Context) error {
	if err := validateOAuthState(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	code := c.QueryParam("code")
	if code == "" {
		return fmt.Errorf("%w: missing code parameter", domain.ErrInvalidInput)
	}

	user, tokens, err := h.auth.GitHubCallback(c.Request().Context(), code)
	if err != nil {
		return err
	}

	return JSON(c, http.StatusOK, map[string]any{
		"user":   user,
		"tokens": tokens,
	})
}

// Me returns the currently authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	user, err := h.auth.GetUser(c.Request().Context(), actor.ID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// Refresh generates a new token pair from a refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&body); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if body.RefreshToken == "" {
		return fmt.Errorf("%w: refresh_token is required", domain.ErrInvalidInput)
	}

	tokens, err := h.auth.RefreshAccessToken(body.RefreshToken)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, tokens)
}

func setStateCookie(c echo.Context, state string) {
	c.SetCookie(&http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
}

func generateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-state"
	}
	return base64.URLEncoding.EncodeToString(b)
}

func validateOAuthState(c echo.Context) error {
	cookie, err := c.Cookie("oauth_state")
	if err != nil {
		return fmt.Errorf("missing oauth_state cookie")
	}

	queryState := c.QueryParam("state")
	if queryState == "" || queryState != cookie.Value {
		return fmt.Errorf("state mismatch")
	}

	return nil
}
