package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gramfix/gramfix/internal/domain"
)

// UserRepository handles user data access operations.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, provider, provider_id, email, display_name, role,
	village_id, village_name, avatar_url, created_at, updated_at`

// FindByID retrieves a user by their ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by id %s: %w", id, err)
	}
	return user, nil
}

// FindByProviderID retrieves a user by their OAuth provider and provider ID.
func (r *UserRepository) FindByProviderID(ctx context.Context, provider domain.AuthProvider, providerID string) (*domain.User, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`,
		provider, providerID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by provider %s/%s: %w", provider, providerID, err)
	}
	return user, nil
}

// Upsert creates a new user or updates an existing one based on
// provider + provider_id. Role and village are preserved on update; a
// sign-in never demotes a panchayat member or moves them between villages.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (*domain.User, error) {
	row := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (id, provider, provider_id, email, display_name, role, village_id, village_name, avatar_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (provider, provider_id)
		 DO UPDATE SET email = EXCLUDED.email,
		               display_name = EXCLUDED.display_name,
		               avatar_url = EXCLUDED.avatar_url,
		               updated_at = NOW()
		 RETURNING `+userColumns,
		user.ID, user.Provider, user.ProviderID, user.Email, user.DisplayName,
		user.Role, user.Village.ID, user.Village.Name, user.AvatarURL)
	result, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return result, nil
}

func scanUser(row *sqlx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Provider, &user.ProviderID, &user.Email,
		&user.DisplayName, &user.Role, &user.Village.ID, &user.Village.Name,
		&user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
