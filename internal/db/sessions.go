package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is a stored login session. Only the SHA-256 hash of the opaque
// token is persisted.
type Session struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSession stores a session row
func (d *DB) CreateSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := d.client.ExecContext(ctx, query, s.TokenHash, s.UserID, s.ExpiresAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession looks up an unexpired session by token hash
func (d *DB) GetSession(ctx context.Context, tokenHash string) (*Session, error) {
	s := &Session{}
	query := `
		SELECT token_hash, user_id, expires_at, created_at
		FROM sessions
		WHERE token_hash = $1 AND expires_at > NOW()
	`
	err := d.client.QueryRowContext(ctx, query, tokenHash).Scan(
		&s.TokenHash, &s.UserID, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// DeleteSession removes a session by token hash
func (d *DB) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := d.client.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all expired sessions, returning the count
func (d *DB) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := d.client.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
