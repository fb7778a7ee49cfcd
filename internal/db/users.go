package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)

// User represents a user in the system
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     *string   `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Site represents a monitored property website
type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	OwnerID   *string   `json:"owner_id,omitempty"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateUser inserts a user row
func (d *DB) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = RoleClient
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	query := `
		INSERT INTO users (id, email, full_name, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`
	if _, err := d.client.ExecContext(ctx, query, u.ID, u.Email, u.FullName, u.PasswordHash, u.Role); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (d *DB) GetUser(ctx context.Context, userID string) (*User, error) {
	return d.getUserWhere(ctx, "id = $1", userID)
}

// GetUserByEmail retrieves a user by email address
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return d.getUserWhere(ctx, "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (d *DB) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	user := &User{}
	query := `
		SELECT id, email, full_name, password_hash, role, is_active, created_at, updated_at
		FROM users
		WHERE ` + where

	err := d.client.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListActiveClients returns all active client users, the population for
// the per-client task-generation fan-out.
func (d *DB) ListActiveClients(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, email, full_name, password_hash, role, is_active, created_at, updated_at
		FROM users
		WHERE role = $1 AND is_active
		ORDER BY created_at ASC
	`
	rows, err := d.client.QueryContext(ctx, query, RoleClient)
	if err != nil {
		return nil, fmt.Errorf("failed to list active clients: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(
			&u.ID, &u.Email, &u.FullName, &u.PasswordHash,
			&u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateSite inserts a site row
func (d *DB) CreateSite(ctx context.Context, s *Site) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	query := `
		INSERT INTO sites (id, name, url, owner_id, is_primary)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := d.client.ExecContext(ctx, query, s.ID, s.Name, s.URL, s.OwnerID, s.IsPrimary); err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

// GetSite retrieves a site by ID
func (d *DB) GetSite(ctx context.Context, siteID string) (*Site, error) {
	site := &Site{}
	query := `
		SELECT id, name, url, owner_id, is_primary, created_at, updated_at
		FROM sites
		WHERE id = $1
	`
	err := d.client.QueryRowContext(ctx, query, siteID).Scan(
		&site.ID, &site.Name, &site.URL, &site.OwnerID, &site.IsPrimary,
		&site.CreatedAt, &site.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("site not found")
		}
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return site, nil
}

// GetPrimarySiteForUser returns the user's primary site, or their first
// site when none is flagged primary.
func (d *DB) GetPrimarySiteForUser(ctx context.Context, userID string) (*Site, error) {
	site := &Site{}
	query := `
		SELECT id, name, url, owner_id, is_primary, created_at, updated_at
		FROM sites
		WHERE owner_id = $1
		ORDER BY is_primary DESC, created_at ASC
		LIMIT 1
	`
	err := d.client.QueryRowContext(ctx, query, userID).Scan(
		&site.ID, &site.Name, &site.URL, &site.OwnerID, &site.IsPrimary,
		&site.CreatedAt, &site.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no site for user %s", userID)
		}
		return nil, fmt.Errorf("failed to get primary site: %w", err)
	}
	return site, nil
}
