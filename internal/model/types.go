package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a marketplace account reachable by phone and,
// optionally, email + password.
type User struct {
	ID             uuid.UUID
	Phone          string
	Email          *string
	HashedPassword *string
	CreatedAt      time.Time
	LastLoginAt    *time.Time
}

// OTPChallenge represents one issued one-time code for a phone number.
// A challenge is valid iff !IsUsed, unexpired, and Attempts < the
// configured cap. Challenges are never deleted, only superseded by a
// newer one for the same phone.
type OTPChallenge struct {
	ID        uuid.UUID
	Phone     string
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
	IsUsed    bool
	RequestIP *string
	UserAgent *string
	CreatedAt time.Time
}

// Device represents one client install bound to a user. DeviceID is
// client-supplied; the row is keyed by (DeviceID, UserID).
type Device struct {
	DeviceID         string
	UserID           uuid.UUID
	DeviceType       string
	DeviceName       *string
	RefreshTokenHash *string
	ExpiresAt        time.Time
	Revoked          bool
	LastUsedAt       time.Time
	IPAddress        *string
	UserAgent        *string
	CreatedAt        time.Time
}

// IsActive reports whether the device may still present refresh tokens.
func (d *Device) IsActive(now time.Time) bool {
	return !d.Revoked && now.Before(d.ExpiresAt)
}

// Session is a login audit record, deactivated on logout.
type Session struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	DeviceID    string
	LoginMethod string
	IsActive    bool
	IPAddress   *string
	UserAgent   *string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
