package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenTypeAccess marks short-lived API tokens.
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks rotating tokens tracked by the revocation ledger.
	TokenTypeRefresh = "refresh"
)

// Claims carries the signed token payload. The jti lives in
// RegisteredClaims.ID and is only set on refresh tokens.
type Claims struct {
	DeviceID  string `json:"device_id,omitempty"`
	TokenType string `json:"type"`
	Refresh   bool   `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// JWTService mints and verifies HMAC-signed token pairs.
type JWTService struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewJWTService creates a new JWT service. algorithm must be an HMAC
// variant; config.Load has already validated it.
func NewJWTService(secret, algorithm string, accessTTL, refreshTTL time.Duration) *JWTService {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	return &JWTService{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (s *JWTService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (s *JWTService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs {sub, device_id, type:"access", iat, exp}.
func (s *JWTService) IssueAccessToken(userID uuid.UUID, deviceID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		DeviceID:  deviceID,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	token, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// IssueRefreshToken signs {sub, device_id, type:"refresh", refresh:true,
// jti, iat, exp} and returns the token together with its jti.
func (s *JWTService) IssueRefreshToken(userID uuid.UUID, deviceID string) (token string, jti string, err error) {
	now := time.Now()
	jti = uuid.NewString()
	claims := &Claims{
		DeviceID:  deviceID,
		TokenType: TokenTypeRefresh,
		Refresh:   true,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}

	token, err = jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}
	return token, jti, nil
}

// VerifyToken checks signature and expiry only. Ledger consultation is
// the caller's job; access tokens never touch the ledger.
func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
