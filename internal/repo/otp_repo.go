package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/4mln/B2B/internal/model"
)

// OtpRepo defines the interface for OTP challenge repository operations.
// Challenges are append-only: a new request supersedes older ones because
// lookup always selects the most recent unused, unexpired record.
type OtpRepo interface {
	Create(ctx context.Context, phone, codeHash string, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error)
	GetLatestValid(ctx context.Context, phone string) (model.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, challengeID uuid.UUID) (newAttempts int, err error)
	MarkUsed(ctx context.Context, challengeID uuid.UUID) error
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Create inserts a new challenge. Prior challenges for the phone stay
// untouched; they simply stop being the newest.
func (r *otpRepo) Create(ctx context.Context, phone, codeHash string, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO otp_challenges (phone, code_hash, expires_at, request_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, phone, codeHash, expiresAt, requestIP, userAgent).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert challenge: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse challenge ID: %w", err)
	}
	return id, nil
}

// GetLatestValid returns the newest unused, unexpired challenge for the
// phone. The attempt cap is deliberately not filtered here: an exhausted
// challenge must still be found so verification can reject it as dead
// instead of falling through to an older challenge.
func (r *otpRepo) GetLatestValid(ctx context.Context, phone string) (model.OTPChallenge, error) {
	var c model.OTPChallenge
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, phone, code_hash, expires_at, attempts, is_used, request_ip, user_agent, created_at
		FROM otp_challenges
		WHERE phone = $1
		  AND is_used = FALSE
		  AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1
	`, phone).Scan(
		&idStr,
		&c.Phone,
		&c.CodeHash,
		&c.ExpiresAt,
		&c.Attempts,
		&c.IsUsed,
		&c.RequestIP,
		&c.UserAgent,
		&c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.OTPChallenge{}, fmt.Errorf("no valid challenge: %w", err)
		}
		return model.OTPChallenge{}, fmt.Errorf("query challenge: %w", err)
	}

	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OTPChallenge{}, fmt.Errorf("parse challenge ID: %w", err)
	}
	return c, nil
}

// IncrementAttempts bumps the counter atomically and returns the new
// value, so concurrent verifiers cannot both observe a count below the cap.
func (r *otpRepo) IncrementAttempts(ctx context.Context, challengeID uuid.UUID) (int, error) {
	var newAttempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_challenges
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`, challengeID).Scan(&newAttempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("challenge not found")
		}
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return newAttempts, nil
}

// MarkUsed terminally consumes the challenge. The is_used guard makes
// consumption single-winner under concurrent correct submissions.
func (r *otpRepo) MarkUsed(ctx context.Context, challengeID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET is_used = TRUE WHERE id = $1 AND is_used = FALSE
	`, challengeID)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("challenge already used or not found")
	}
	return nil
}
