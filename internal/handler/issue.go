package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/gramfix/gramfix/internal/domain"
	"github.com/gramfix/gramfix/internal/service"
)

const defaultListLimit = 50

// IssueHandler exposes the issue lifecycle over HTTP.
type IssueHandler struct {
	issues *service.IssueService
}

// NewIssueHandler creates a new IssueHandler.
func NewIssueHandler(issues *service.IssueService) *IssueHandler {
	return &IssueHandler{issues: issues}
}

// Register mounts the issue routes onto the given group.
func (h *IssueHandler) Register(g *echo.Group) {
	g.POST("/issues", h.Report)
	g.GET("/issues", h.List)
	g.GET("/issues/:id", h.Get)
	g.POST("/issues/:id/claim", h.Claim)
	g.POST("/issues/:id/resolve", h.Resolve)
	g.POST("/issues/:id/verify", h.Verify)
	g.POST("/issues/:id/comments", h.AddComment)
	g.POST("/issues/:id/comments/:commentID/like", h.ToggleCommentLike)
}

type attachmentPayload struct {
	URL          string  `json:"url" validate:"required,url"`
	Type         string  `json:"type" validate:"required,oneof=image video"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty" validate:"omitempty,url"`
}

func (p attachmentPayload) toDomain() domain.Attachment {
	return domain.Attachment{
		URL:          p.URL,
		Type:         domain.AttachmentType(p.Type),
		ThumbnailURL: p.ThumbnailURL,
	}
}

func toDomainAttachments(payloads []attachmentPayload) []domain.Attachment {
	if len(payloads) == 0 {
		return nil
	}
	attachments := make([]domain.Attachment, len(payloads))
	for i, p := range payloads {
		attachments[i] = p.toDomain()
	}
	return attachments
}

type coordinatesPayload struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

type reportIssueRequest struct {
	Title       string              `json:"title" validate:"required,max=200"`
	Description string              `json:"description" validate:"required,max=5000"`
	Location    string              `json:"location" validate:"required,max=500"`
	Priority    string              `json:"priority" validate:"required,oneof=low medium high"`
	Coordinates *coordinatesPayload `json:"coordinates,omitempty"`
	Attachments []attachmentPayload `json:"attachments,omitempty" validate:"dive"`
}

// Report files a new issue in the actor's village.
func (h *IssueHandler) Report(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	var req reportIssueRequest
	if err := c.Bind(&req); err != nil {
		return domain.ErrInvalidInput
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	in := service.ReportIssueInput{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Priority:    domain.Priority(req.Priority),
		Attachments: toDomainAttachments(req.Attachments),
	}
	if req.Coordinates != nil {
		in.Coordinates = &domain.Coordinates{
			Latitude:  req.Coordinates.Latitude,
			Longitude: req.Coordinates.Longitude,
		}
	}

	issue, err := h.issues.Report(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, issue)
}

// List returns issues from the actor's village, optionally filtered by
// status, reporter, or assignee. Without a filter the newest issues are
// returned up to the limit.
func (h *IssueHandler) List(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	ctx := c.Request().Context()

	if status := c.QueryParam("status"); status != "" {
		issues, err := h.issues.ListByStatus(ctx, actor, domain.IssueStatus(status))
		if err != nil {
			return err
		}
		return JSON(c, http.StatusOK, issues)
	}
	if reporter := c.QueryParam("reporter"); reporter != "" {
		issues, err := h.issues.ListByReporter(ctx, actor, reporter)
		if err != nil {
			return err
		}
		return JSON(c, http.StatusOK, issues)
	}
	if assignee := c.QueryParam("assignee"); assignee != "" {
		issues, err := h.issues.ListByAssignee(ctx, actor, assignee)
		if err != nil {
			return err
		}
		return JSON(c, http.StatusOK, issues)
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return domain.ErrInvalidInput
		}
		limit = parsed
	}
	issues, err := h.issues.Recent(ctx, actor, limit)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issues)
}

// Get returns a single issue by id.
func (h *IssueHandler) Get(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	issue, err := h.issues.GetByID(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issue)
}

// Claim assigns the issue to the acting user.
func (h *IssueHandler) Claim(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	issue, err := h.issues.Claim(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issue)
}

type resolveIssueRequest struct {
	Proof attachmentPayload `json:"proof" validate:"required"`
}

// Resolve marks the issue resolved with a proof attachment.
func (h *IssueHandler) Resolve(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	var req resolveIssueRequest
	if err := c.Bind(&req); err != nil {
		return domain.ErrInvalidInput
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	issue, err := h.issues.Resolve(c.Request().Context(), actor, c.Param("id"), req.Proof.toDomain())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issue)
}

type verifyIssueRequest struct {
	Accepted *bool `json:"accepted" validate:"required"`
}

// Verify accepts or rejects the issue's resolution.
func (h *IssueHandler) Verify(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	var req verifyIssueRequest
	if err := c.Bind(&req); err != nil {
		return domain.ErrInvalidInput
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	issue, err := h.issues.Verify(c.Request().Context(), actor, c.Param("id"), *req.Accepted)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issue)
}

type addCommentRequest struct {
	Content     string              `json:"content" validate:"required,max=2000"`
	Attachments []attachmentPayload `json:"attachments,omitempty" validate:"dive"`
}

// AddComment appends a comment to the issue.
func (h *IssueHandler) AddComment(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	var req addCommentRequest
	if err := c.Bind(&req); err != nil {
		return domain.ErrInvalidInput
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	issue, err := h.issues.AddComment(c.Request().Context(), actor, c.Param("id"),
		req.Content, toDomainAttachments(req.Attachments))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, issue)
}

// ToggleCommentLike flips the actor's like on a comment.
func (h *IssueHandler) ToggleCommentLike(c echo.Context) error {
	actor, ok := GetActor(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	issue, err := h.issues.ToggleCommentLike(c.Request().Context(), actor,
		c.Param("id"), c.Param("commentID"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issue)
}
