package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/4mln/B2B/internal/model"
)

// SessionRepo defines the interface for login audit records.
type SessionRepo interface {
	Create(ctx context.Context, userID uuid.UUID, deviceID, loginMethod string, ip, userAgent *string, expiresAt time.Time) (uuid.UUID, error)
	Deactivate(ctx context.Context, userID uuid.UUID, deviceID string) error
	DeactivateAllForUser(ctx context.Context, userID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a session record alongside a successful authentication.
func (r *sessionRepo) Create(ctx context.Context, userID uuid.UUID, deviceID, loginMethod string, ip, userAgent *string, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, device_id, login_method, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, userID, deviceID, loginMethod, ip, userAgent, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return id, nil
}

// Deactivate marks all active sessions for the (user, device) pair inactive.
func (r *sessionRepo) Deactivate(ctx context.Context, userID uuid.UUID, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = $1 AND device_id = $2 AND is_active = TRUE
	`, userID, deviceID)
	if err != nil {
		return fmt.Errorf("deactivate sessions: %w", err)
	}
	return nil
}

// DeactivateAllForUser marks every active session for the user inactive.
func (r *sessionRepo) DeactivateAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = $1 AND is_active = TRUE
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate all sessions: %w", err)
	}
	return nil
}

// ListByUser returns the user's session history, newest first.
func (r *sessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, device_id, login_method, is_active, ip_address, user_agent, created_at, expires_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		var idStr, userIDStr string
		err := rows.Scan(
			&idStr,
			&userIDStr,
			&s.DeviceID,
			&s.LoginMethod,
			&s.IsActive,
			&s.IPAddress,
			&s.UserAgent,
			&s.CreatedAt,
			&s.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.ID, _ = uuid.Parse(idStr)
		s.UserID, _ = uuid.Parse(userIDStr)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
