package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/4mln/B2B/internal/ledger"
	"github.com/4mln/B2B/internal/model"
	"github.com/4mln/B2B/internal/ratelimit"
	"github.com/4mln/B2B/internal/repo"
)

// Rate-limit actions and per-flow budgets.
const (
	actionOTPRequest = "otp_request"
	actionOTPVerify  = "otp_verify"
	actionLogin      = "login"
	actionRefresh    = "token_refresh"

	otpVerifyMaxAttempts = 5
	otpVerifyWindow      = 10 * time.Minute
	loginMaxAttempts     = 5
	loginWindow          = 15 * time.Minute
	refreshMaxAttempts   = 10
	refreshWindow        = 5 * time.Minute
)

// bypassOTPCode is the development sentinel accepted when bypass mode is
// on. config.Load guarantees bypass cannot be enabled outside development.
const bypassOTPCode = "000000"

const (
	// LoginMethodOTP marks sessions created through phone verification.
	LoginMethodOTP = "otp"
	// LoginMethodPassword marks sessions created through password login.
	LoginMethodPassword = "password"
)

// ServiceConfig carries the orchestrator's tunables.
type ServiceConfig struct {
	BypassOTP             bool
	RequireRefreshRedis   bool
	MaxOTPRequestsPerHour int
}

// TokenPair is an issued access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// OTPRequestResult reports challenge metadata to the caller.
type OTPRequestResult struct {
	ExpiresInSeconds int
	Bypass           bool
}

// LoginResult bundles the token pair with user and device summaries.
type LoginResult struct {
	TokenPair
	User   model.User
	Device model.Device
}

// Service orchestrates OTP, credential, token, ledger, device, and
// rate-limit components into the authentication use cases. It holds no
// cross-request state; everything lives in Postgres or Redis.
type Service struct {
	cfg         ServiceConfig
	otpManager  *OTPManager
	jwtService  *JWTService
	ledger      *ledger.Ledger
	limiter     *ratelimit.Limiter
	userRepo    repo.UserRepo
	deviceRepo  repo.DeviceRepo
	sessionRepo repo.SessionRepo
}

// NewService creates the session orchestrator.
func NewService(
	cfg ServiceConfig,
	otpManager *OTPManager,
	jwtService *JWTService,
	revocation *ledger.Ledger,
	limiter *ratelimit.Limiter,
	userRepo repo.UserRepo,
	deviceRepo repo.DeviceRepo,
	sessionRepo repo.SessionRepo,
) *Service {
	return &Service{
		cfg:         cfg,
		otpManager:  otpManager,
		jwtService:  jwtService,
		ledger:      revocation,
		limiter:     limiter,
		userRepo:    userRepo,
		deviceRepo:  deviceRepo,
		sessionRepo: sessionRepo,
	}
}

// checkRate applies a windowed limit. Store outages fail open unless the
// caller asks for fail-closed (the refresh path when the ledger is required).
func (s *Service) checkRate(ctx context.Context, identifier, action string, maxAttempts int, window time.Duration, failClosed bool) error {
	err := s.limiter.CheckAndIncrement(ctx, identifier, action, maxAttempts, window)
	if err == nil {
		return nil
	}
	var limited *ratelimit.RateLimitedError
	if errors.As(err, &limited) {
		return err
	}
	if errors.Is(err, ratelimit.ErrUnavailable) {
		if failClosed {
			return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		log.Printf("Rate limiter unavailable, failing open for %s: %v", action, err)
		return nil
	}
	return err
}

// RequestOTP issues a new challenge for the phone. Bypass mode
// short-circuits before any persistence.
func (s *Service) RequestOTP(ctx context.Context, phone string, requestIP, userAgent *string) (OTPRequestResult, error) {
	if err := s.checkRate(ctx, phone, actionOTPRequest, s.cfg.MaxOTPRequestsPerHour, time.Hour, false); err != nil {
		return OTPRequestResult{}, err
	}

	expiresIn := int(s.otpManager.Expiry().Seconds())

	if s.cfg.BypassOTP {
		return OTPRequestResult{ExpiresInSeconds: expiresIn, Bypass: true}, nil
	}

	if err := s.otpManager.RequestChallenge(ctx, phone, requestIP, userAgent); err != nil {
		return OTPRequestResult{}, err
	}
	return OTPRequestResult{ExpiresInSeconds: expiresIn}, nil
}

// VerifyOTPAndLogin verifies the code and establishes a device-bound session.
func (s *Service) VerifyOTPAndLogin(ctx context.Context, phone, code, deviceID, deviceType string, deviceName, requestIP, userAgent *string) (LoginResult, error) {
	if err := s.checkRate(ctx, phone, actionOTPVerify, otpVerifyMaxAttempts, otpVerifyWindow, false); err != nil {
		return LoginResult{}, err
	}

	if s.cfg.BypassOTP && code == bypassOTPCode {
		// Sentinel code never touches a persisted challenge.
	} else {
		if err := s.otpManager.VerifyChallenge(ctx, phone, code); err != nil {
			return LoginResult{}, err
		}
	}

	user, err := s.userRepo.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return LoginResult{}, fmt.Errorf("get or create user: %w", err)
	}

	return s.establishSession(ctx, user, deviceID, deviceType, LoginMethodOTP, deviceName, requestIP, userAgent)
}

// Login authenticates with email + password, the alternate credential path.
func (s *Service) Login(ctx context.Context, email, password, deviceID, deviceType string, deviceName, requestIP, userAgent *string) (LoginResult, error) {
	if err := s.checkLockout(ctx, email, actionLogin); err != nil {
		return LoginResult{}, err
	}
	if err := s.checkRate(ctx, email, actionLogin, loginMaxAttempts, loginWindow, false); err != nil {
		return LoginResult{}, err
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil || user.HashedPassword == nil {
		s.recordFailure(ctx, email, actionLogin)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !VerifyPassword(password, *user.HashedPassword) {
		s.recordFailure(ctx, email, actionLogin)
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.limiter.ClearFailures(ctx, email, actionLogin); err != nil {
		log.Printf("Clearing login failures failed: %v", err)
	}

	return s.establishSession(ctx, user, deviceID, deviceType, LoginMethodPassword, deviceName, requestIP, userAgent)
}

// Refresh rotates the presented refresh token: exactly one of any number
// of concurrent calls with the same token succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken, deviceID string) (TokenPair, error) {
	claims, err := s.jwtService.VerifyToken(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenType != TokenTypeRefresh || !claims.Refresh {
		return TokenPair{}, fmt.Errorf("%w: wrong token type", ErrUnauthorized)
	}
	if claims.DeviceID != deviceID {
		return TokenPair{}, fmt.Errorf("%w: device mismatch", ErrUnauthorized)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || claims.ID == "" {
		return TokenPair{}, fmt.Errorf("%w: malformed claims", ErrUnauthorized)
	}

	if err := s.checkRate(ctx, claims.Subject, actionRefresh, refreshMaxAttempts, refreshWindow, s.cfg.RequireRefreshRedis); err != nil {
		return TokenPair{}, err
	}

	// Atomic check-and-revoke is the rotation core: the ledger script
	// deletes the jti and reports whether it existed in one step.
	ledgerUp := true
	revoked, err := s.ledger.Revoke(ctx, claims.ID)
	if err != nil {
		if s.cfg.RequireRefreshRedis {
			return TokenPair{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		log.Printf("Refresh ledger unavailable, relying on device binding only: %v", err)
		ledgerUp = false
	} else if !revoked {
		return TokenPair{}, fmt.Errorf("%w: refresh token revoked or already used", ErrUnauthorized)
	}

	device, err := s.verifyDevice(ctx, userID, deviceID, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	pair, jti, err := s.issuePair(userID, deviceID)
	if err != nil {
		return TokenPair{}, err
	}

	if ledgerUp {
		if err := s.ledger.Store(ctx, jti, claims.Subject, s.jwtService.RefreshTTL()); err != nil {
			if s.cfg.RequireRefreshRedis {
				return TokenPair{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
			}
			log.Printf("Storing rotated jti failed: %v", err)
		}
	}

	expiresAt := time.Now().Add(s.jwtService.RefreshTTL())
	if err := s.deviceRepo.BindRefreshToken(ctx, device.DeviceID, userID, HashToken(pair.RefreshToken), expiresAt); err != nil {
		return TokenPair{}, fmt.Errorf("rebind refresh token: %w", err)
	}

	return pair, nil
}

// Logout best-effort revokes the token's jti, the matching device, and
// its session records. It always succeeds from the caller's view so the
// response never leaks whether the presented token was still valid.
func (s *Service) Logout(ctx context.Context, refreshToken, deviceID string) {
	claims, err := s.jwtService.VerifyToken(refreshToken)
	if err != nil {
		return
	}

	if claims.ID != "" {
		revoked, err := s.ledger.Revoke(ctx, claims.ID)
		if err != nil {
			log.Printf("Logout: ledger revoke failed: %v", err)
		} else if !revoked {
			log.Printf("Logout: jti already absent")
		}
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return
	}
	if err := s.deviceRepo.Revoke(ctx, userID, deviceID); err != nil {
		log.Printf("Logout: device revoke failed: %v", err)
	}
	if err := s.sessionRepo.Deactivate(ctx, userID, deviceID); err != nil {
		log.Printf("Logout: session deactivation failed: %v", err)
	}
}

// LogoutAll revokes every refresh token and device for the user and
// returns the number of ledger entries revoked.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.ledger.RevokeAll(ctx, userID.String())
	if err != nil {
		if s.cfg.RequireRefreshRedis {
			return 0, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		log.Printf("LogoutAll: ledger revoke-all failed: %v", err)
	}
	if err := s.deviceRepo.RevokeAllForUser(ctx, userID); err != nil {
		return count, fmt.Errorf("revoke all devices: %w", err)
	}
	if err := s.sessionRepo.DeactivateAllForUser(ctx, userID); err != nil {
		return count, fmt.Errorf("deactivate all sessions: %w", err)
	}
	return count, nil
}

// RevokeDevice revokes a single device explicitly.
func (s *Service) RevokeDevice(ctx context.Context, userID uuid.UUID, deviceID string) error {
	device, err := s.deviceRepo.Get(ctx, userID, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	if err := s.deviceRepo.Revoke(ctx, userID, device.DeviceID); err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	if err := s.sessionRepo.Deactivate(ctx, userID, device.DeviceID); err != nil {
		log.Printf("RevokeDevice: session deactivation failed: %v", err)
	}
	return nil
}

// ListDevices returns the user's active devices, most recently used first.
func (s *Service) ListDevices(ctx context.Context, userID uuid.UUID) ([]model.Device, error) {
	return s.deviceRepo.ListActive(ctx, userID)
}

// ListSessions returns the user's login history.
func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	return s.sessionRepo.ListByUser(ctx, userID)
}

// establishSession is the shared tail of both credential paths: device
// upsert, token issuance, ledger store, hash binding, session record.
func (s *Service) establishSession(ctx context.Context, user model.User, deviceID, deviceType, loginMethod string, deviceName, requestIP, userAgent *string) (LoginResult, error) {
	refreshExpiresAt := time.Now().Add(s.jwtService.RefreshTTL())

	device, err := s.deviceRepo.Upsert(ctx, deviceID, user.ID, deviceType, deviceName, requestIP, userAgent, refreshExpiresAt)
	if err != nil {
		return LoginResult{}, fmt.Errorf("upsert device: %w", err)
	}

	pair, jti, err := s.issuePair(user.ID, deviceID)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.ledger.Store(ctx, jti, user.ID.String(), s.jwtService.RefreshTTL()); err != nil {
		if s.cfg.RequireRefreshRedis {
			return LoginResult{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		log.Printf("Storing refresh jti failed: %v", err)
	}

	if err := s.deviceRepo.BindRefreshToken(ctx, deviceID, user.ID, HashToken(pair.RefreshToken), refreshExpiresAt); err != nil {
		return LoginResult{}, fmt.Errorf("bind refresh token: %w", err)
	}
	device.RefreshTokenHash = nil // never expose the binding hash

	if _, err := s.sessionRepo.Create(ctx, user.ID, deviceID, loginMethod, requestIP, userAgent, refreshExpiresAt); err != nil {
		return LoginResult{}, fmt.Errorf("create session record: %w", err)
	}

	if err := s.userRepo.TouchLastLogin(ctx, user.ID); err != nil {
		log.Printf("Updating last login failed: %v", err)
	}

	return LoginResult{TokenPair: pair, User: user, Device: device}, nil
}

// issuePair mints a new access/refresh pair.
func (s *Service) issuePair(userID uuid.UUID, deviceID string) (TokenPair, string, error) {
	accessToken, err := s.jwtService.IssueAccessToken(userID, deviceID)
	if err != nil {
		return TokenPair{}, "", err
	}
	refreshToken, jti, err := s.jwtService.IssueRefreshToken(userID, deviceID)
	if err != nil {
		return TokenPair{}, "", err
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.jwtService.AccessTTL().Seconds()),
	}, jti, nil
}

// verifyDevice enforces the device binding on the refresh path: the
// device must exist, be unrevoked and unexpired, and hold the hash of
// exactly the presented token.
func (s *Service) verifyDevice(ctx context.Context, userID uuid.UUID, deviceID, refreshToken string) (model.Device, error) {
	device, err := s.deviceRepo.Get(ctx, userID, deviceID)
	if err != nil {
		return model.Device{}, fmt.Errorf("%w: device not found", ErrUnauthorized)
	}
	if !device.IsActive(time.Now()) {
		return model.Device{}, fmt.Errorf("%w: device revoked or expired", ErrUnauthorized)
	}
	if device.RefreshTokenHash == nil || *device.RefreshTokenHash != HashToken(refreshToken) {
		return model.Device{}, fmt.Errorf("%w: refresh token not bound to device", ErrUnauthorized)
	}
	return device, nil
}

// checkLockout fails open when the lockout store is unreachable.
func (s *Service) checkLockout(ctx context.Context, identifier, action string) error {
	err := s.limiter.CheckLockout(ctx, identifier, action)
	if err == nil {
		return nil
	}
	var locked *ratelimit.LockedError
	if errors.As(err, &locked) {
		return fmt.Errorf("%w: %w", ErrAccountLocked, locked)
	}
	log.Printf("Lockout check unavailable, failing open: %v", err)
	return nil
}

// recordFailure counts a failed credential attempt, best-effort.
func (s *Service) recordFailure(ctx context.Context, identifier, action string) {
	locked, err := s.limiter.RecordFailure(ctx, identifier, action)
	if err != nil {
		log.Printf("Recording auth failure failed: %v", err)
		return
	}
	if locked {
		log.Printf("Identifier locked out after repeated failures on %s", action)
	}
}
