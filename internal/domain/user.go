package domain

import "time"

// AuthProvider represents an OAuth provider.
type AuthProvider string

const (
	AuthProviderGoogle AuthProvider = "google"
	AuthProviderGitHub AuthProvider = "github"
)

// Role represents a user's role within their village.
type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleVolunteer Role = "volunteer"
	RolePanchayat Role = "panchayat"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleCitizen, RoleVolunteer, RolePanchayat:
		return true
	}
	return false
}

// CanClaim reports whether the role is allowed to take ownership of issues.
func (r Role) CanClaim() bool {
	return r == RoleVolunteer || r == RolePanchayat
}

// VillageRef identifies the village an issue or user belongs to.
// The village id is the partition key for stored issue collections.
type VillageRef struct {
	ID   string `json:"id" db:"village_id"`
	Name string `json:"name" db:"village_name"`
}

// User represents an authenticated user.
type User struct {
	ID          string       `json:"id" db:"id"`
	Provider    AuthProvider `json:"provider" db:"provider"`
	ProviderID  string       `json:"provider_id" db:"provider_id"`
	Email       string       `json:"email" db:"email"`
	DisplayName string       `json:"display_name" db:"display_name"`
	Role        Role         `json:"role" db:"role"`
	Village     VillageRef   `json:"village"`
	AvatarURL   *string      `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// Actor is the identity every lifecycle operation is performed as.
// It is built from the authenticated user and passed explicitly; the
// engine never reads ambient session state.
type Actor struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Role    Role       `json:"role"`
	Village VillageRef `json:"village"`
}

// Ref returns the actor as a plain user reference.
func (a Actor) Ref() UserRef {
	return UserRef{ID: a.ID, Name: a.Name}
}

// UserRef is a minimal embedded reference to a user.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Assignee is the user reference stored on an issue once it is claimed.
type Assignee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
