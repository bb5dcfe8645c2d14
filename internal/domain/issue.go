package domain

import (
	"fmt"
	"slices"
	"time"
)

// IssueStatus represents the lifecycle state of an issue.
type IssueStatus string

const (
	IssueStatusReported   IssueStatus = "reported"
	IssueStatusAssigned   IssueStatus = "assigned"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
	IssueStatusVerified   IssueStatus = "verified"
)

// IsValid reports whether the status is one of the known lifecycle states.
func (s IssueStatus) IsValid() bool {
	switch s {
	case IssueStatusReported, IssueStatusAssigned, IssueStatusInProgress, IssueStatusResolved, IssueStatusVerified:
		return true
	}
	return false
}

// HasAssignee reports whether an issue in this status must carry an assignee.
func (s IssueStatus) HasAssignee() bool {
	switch s {
	case IssueStatusAssigned, IssueStatusInProgress, IssueStatusResolved, IssueStatusVerified:
		return true
	}
	return false
}

// statusTransitions declares every legal edge of the lifecycle. Forward
// movement only, except the explicit reject branch resolved -> in_progress.
var statusTransitions = map[IssueStatus][]IssueStatus{
	IssueStatusReported:   {IssueStatusAssigned},
	IssueStatusAssigned:   {IssueStatusInProgress, IssueStatusResolved},
	IssueStatusInProgress: {IssueStatusResolved},
	IssueStatusResolved:   {IssueStatusVerified, IssueStatusInProgress},
	IssueStatusVerified:   {},
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
func (s IssueStatus) CanTransitionTo(next IssueStatus) bool {
	return slices.Contains(statusTransitions[s], next)
}

// Priority represents the urgency of an issue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether the priority is one of the known levels.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// AttachmentType represents the media kind of an attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
)

// Attachment references an uploaded media file by URL. Binary storage is
// handled by an external media service; only the reference is kept here.
type Attachment struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	Type         AttachmentType `json:"type"`
	ThumbnailURL *string        `json:"thumbnail_url,omitempty"`
}

// Coordinates is an optional geographic location for an issue.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Comment is a message attached to an issue. Comments are append-only and
// kept in insertion order; only the likes set is mutable.
type Comment struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Sender      UserRef      `json:"sender"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Likes       []string     `json:"likes"`
}

// LikedBy reports whether the given user has liked the comment.
func (c Comment) LikedBy(userID string) bool {
	return slices.Contains(c.Likes, userID)
}

// Issue represents a reported civic problem tracked through the lifecycle
// reported -> assigned -> in_progress -> resolved -> verified.
type Issue struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Location        string       `json:"location"`
	Coordinates     *Coordinates `json:"coordinates,omitempty"`
	Status          IssueStatus  `json:"status"`
	Priority        Priority     `json:"priority"`
	ReportedBy      UserRef      `json:"reported_by"`
	AssignedTo      *Assignee    `json:"assigned_to,omitempty"`
	Village         VillageRef   `json:"village"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Comments        []Comment    `json:"comments"`
	ResolutionProof *Attachment  `json:"resolution_proof,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Validate checks the issue's cross-field invariants. It is run after every
// mutation so that coupling between status and the optional fields is
// enforced rather than left as convention.
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue id is required")
	}
	if i.Title == "" {
		return fmt.Errorf("issue title is required")
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if !i.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", i.Priority)
	}
	if i.ReportedBy.ID == "" {
		return fmt.Errorf("issue reporter is required")
	}
	if i.Village.ID == "" {
		return fmt.Errorf("issue village is required")
	}
	if i.Status.HasAssignee() && i.AssignedTo == nil {
		return fmt.Errorf("status %s requires an assignee", i.Status)
	}
	if !i.Status.HasAssignee() && i.AssignedTo != nil {
		return fmt.Errorf("status %s must not have an assignee", i.Status)
	}
	// The proof survives a reject-rework cycle until the next resolve
	// overwrites it, so in_progress may legitimately carry one.
	if (i.Status == IssueStatusResolved || i.Status == IssueStatusVerified) && i.ResolutionProof == nil {
		return fmt.Errorf("status %s requires resolution proof", i.Status)
	}
	return nil
}

// FindComment returns the comment with the given id, or nil.
func (i *Issue) FindComment(commentID string) *Comment {
	for idx := range i.Comments {
		if i.Comments[idx].ID == commentID {
			return &i.Comments[idx]
		}
	}
	return nil
}
