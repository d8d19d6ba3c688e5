package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/4mln/B2B/internal/repo"
	"github.com/4mln/B2B/internal/sms"
)

const (
	otpLength      = 6
	smsSendTimeout = 10 * time.Second
)

// OTPManager owns the challenge lifecycle: issue, verify, expire.
// Rate limiting and user resolution are the orchestrator's job.
type OTPManager struct {
	otpRepo     repo.OtpRepo
	sender      sms.Provider
	expiry      time.Duration
	maxAttempts int
}

// NewOTPManager creates a new OTP challenge manager.
func NewOTPManager(otpRepo repo.OtpRepo, sender sms.Provider, expiry time.Duration, maxAttempts int) *OTPManager {
	return &OTPManager{
		otpRepo:     otpRepo,
		sender:      sender,
		expiry:      expiry,
		maxAttempts: maxAttempts,
	}
}

// Expiry returns the configured challenge lifetime.
func (m *OTPManager) Expiry() time.Duration { return m.expiry }

// RequestChallenge generates a 6-digit code, persists its hash, and
// attempts the SMS send. Prior unexpired challenges for the phone are
// not invalidated; verification always targets the newest one.
//
// The challenge is persisted before the send on purpose: a send failure
// surfaces as ErrDependencyUnavailable while the challenge stays valid,
// so a delayed delivery or out-of-band retry can still succeed without
// burning another slot of the per-phone request budget.
func (m *OTPManager) RequestChallenge(ctx context.Context, phone string, requestIP, userAgent *string) error {
	code, err := generateOTPCode()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	expiresAt := time.Now().Add(m.expiry)
	if _, err := m.otpRepo.Create(ctx, phone, HashOTP(code), expiresAt, requestIP, userAgent); err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, smsSendTimeout)
	defer cancel()

	if err := m.sender.SendOTP(sendCtx, phone, code); err != nil {
		log.Printf("OTP send failed for %s: %v", maskPhone(phone), err)
		return fmt.Errorf("%w: sms send failed", ErrDependencyUnavailable)
	}
	return nil
}

// VerifyChallenge checks the submitted code against the newest valid
// challenge. State machine: PENDING -> VERIFIED on match (terminal),
// PENDING -> LOCKED once attempts reach the cap (terminal, the correct
// code no longer helps), PENDING -> EXPIRED lazily at lookup time.
func (m *OTPManager) VerifyChallenge(ctx context.Context, phone, code string) error {
	challenge, err := m.otpRepo.GetLatestValid(ctx, phone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeNotFound, err)
	}

	if challenge.Attempts >= m.maxAttempts {
		return ErrAttemptsExhausted
	}

	if !VerifyOTPHash(code, challenge.CodeHash) {
		// Count the miss before reporting it, so retries after the
		// error are always charged against the cap.
		newAttempts, incErr := m.otpRepo.IncrementAttempts(ctx, challenge.ID)
		if incErr != nil {
			return fmt.Errorf("record attempt: %w", incErr)
		}
		if newAttempts >= m.maxAttempts {
			return ErrAttemptsExhausted
		}
		return ErrInvalidCode
	}

	if err := m.otpRepo.MarkUsed(ctx, challenge.ID); err != nil {
		// Lost the race against a concurrent verification of the same code.
		return fmt.Errorf("%w: %v", ErrChallengeNotFound, err)
	}
	return nil
}

// generateOTPCode returns a cryptographically random 6-digit code.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// maskPhone masks a phone number for logging (e.g., +49******89)
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	masked := make([]byte, len(phone))
	copy(masked, phone[:2])
	for i := 2; i < len(phone)-2; i++ {
		masked[i] = '*'
	}
	copy(masked[len(phone)-2:], phone[len(phone)-2:])
	return string(masked)
}
