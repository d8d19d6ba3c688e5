package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/4mln/B2B/internal/model"
)

// DeviceRepo defines the interface for device registry operations.
// Rows are keyed by (device_id, user_id); device_id is client-supplied.
type DeviceRepo interface {
	Upsert(ctx context.Context, deviceID string, userID uuid.UUID, deviceType string, deviceName, ip, userAgent *string, expiresAt time.Time) (model.Device, error)
	Get(ctx context.Context, userID uuid.UUID, deviceID string) (model.Device, error)
	BindRefreshToken(ctx context.Context, deviceID string, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	Revoke(ctx context.Context, userID uuid.UUID, deviceID string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	ListActive(ctx context.Context, userID uuid.UUID) ([]model.Device, error)
}

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a new DeviceRepo instance
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

const deviceColumns = `device_id, user_id, device_type, device_name, refresh_token_hash,
	expires_at, revoked, last_used_at, ip_address, user_agent, created_at`

func scanDevice(scan func(dest ...any) error) (model.Device, error) {
	var d model.Device
	var userIDStr string
	err := scan(
		&d.DeviceID,
		&userIDStr,
		&d.DeviceType,
		&d.DeviceName,
		&d.RefreshTokenHash,
		&d.ExpiresAt,
		&d.Revoked,
		&d.LastUsedAt,
		&d.IPAddress,
		&d.UserAgent,
		&d.CreatedAt,
	)
	if err != nil {
		return model.Device{}, err
	}
	d.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return model.Device{}, fmt.Errorf("parse user ID: %w", err)
	}
	return d, nil
}

// Upsert creates the device on first sight, otherwise refreshes
// last_used_at, clears revocation, and updates any provided metadata.
func (r *deviceRepo) Upsert(ctx context.Context, deviceID string, userID uuid.UUID, deviceType string, deviceName, ip, userAgent *string, expiresAt time.Time) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO devices (device_id, user_id, device_type, device_name, ip_address, user_agent, expires_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (device_id, user_id) DO UPDATE SET
			last_used_at = now(),
			revoked      = FALSE,
			device_type  = EXCLUDED.device_type,
			device_name  = COALESCE(EXCLUDED.device_name, devices.device_name),
			ip_address   = COALESCE(EXCLUDED.ip_address, devices.ip_address),
			user_agent   = COALESCE(EXCLUDED.user_agent, devices.user_agent)
		RETURNING `+deviceColumns+`
	`, deviceID, userID, deviceType, deviceName, ip, userAgent, expiresAt)

	device, err := scanDevice(row.Scan)
	if err != nil {
		return model.Device{}, fmt.Errorf("upsert device: %w", err)
	}
	return device, nil
}

// Get returns the device row regardless of revocation state.
func (r *deviceRepo) Get(ctx context.Context, userID uuid.UUID, deviceID string) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID)

	device, err := scanDevice(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Device{}, fmt.Errorf("device not found: %w", err)
		}
		return model.Device{}, fmt.Errorf("query device: %w", err)
	}
	return device, nil
}

// BindRefreshToken stores the hash of the freshly issued refresh token
// and extends the device lifetime to match it.
func (r *deviceRepo) BindRefreshToken(ctx context.Context, deviceID string, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET refresh_token_hash = $3, expires_at = $4, last_used_at = now()
		WHERE device_id = $1 AND user_id = $2
	`, deviceID, userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("bind refresh token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("device not found")
	}
	return nil
}

// Revoke marks the device revoked and clears its refresh binding.
func (r *deviceRepo) Revoke(ctx context.Context, userID uuid.UUID, deviceID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET revoked = TRUE, refresh_token_hash = NULL
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("device not found")
	}
	return nil
}

// RevokeAllForUser revokes every device belonging to the user.
func (r *deviceRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET revoked = TRUE, refresh_token_hash = NULL
		WHERE user_id = $1 AND revoked = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke all devices: %w", err)
	}
	return nil
}

// ListActive returns unrevoked devices ordered by most recent use.
func (r *deviceRepo) ListActive(ctx context.Context, userID uuid.UUID) ([]model.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE user_id = $1 AND revoked = FALSE
		ORDER BY last_used_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		device, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}
