package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "+15551234567"

func newTestOTPManager(t *testing.T) (*OTPManager, *fakeOtpRepo, *fakeSMSSender) {
	t.Helper()
	otpRepo := newFakeOtpRepo()
	sender := &fakeSMSSender{}
	return NewOTPManager(otpRepo, sender, 5*time.Minute, 3), otpRepo, sender
}

func TestRequestChallengeSendsSixDigitCode(t *testing.T) {
	m, _, sender := newTestOTPManager(t)
	ctx := context.Background()

	require.NoError(t, m.RequestChallenge(ctx, testPhone, nil, nil))

	assert.Equal(t, 1, sender.SentCount())
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), sender.LastCode())
}

func TestVerifyChallengeSucceedsOnce(t *testing.T) {
	m, _, sender := newTestOTPManager(t)
	ctx := context.Background()

	require.NoError(t, m.RequestChallenge(ctx, testPhone, nil, nil))
	code := sender.LastCode()

	require.NoError(t, m.VerifyChallenge(ctx, testPhone, code))

	// The challenge is consumed; replaying the same code fails.
	err := m.VerifyChallenge(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestVerifyChallengeWrongCode(t *testing.T) {
	m, _, sender := newTestOTPManager(t)
	ctx := context.Background()

	require.NoError(t, m.RequestChallenge(ctx, testPhone, nil, nil))

	err := m.VerifyChallenge(ctx, testPhone, "000001")
	assert.ErrorIs(t, err, ErrInvalidCode)

	// The correct code still works while attempts remain.
	require.NoError(t, m.VerifyChallenge(ctx, testPhone, sender.LastCode()))
}

func TestVerifyChallengeLocksAfterMaxAttempts(t *testing.T) {
	m, _, sender := newTestOTPManager(t)
	ctx := context.Background()

	require.NoError(t, m.RequestChallenge(ctx, testPhone, nil, nil))

	for i := 0; i < 2; i++ {
		err := m.VerifyChallenge(ctx, testPhone, "000001")
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	// Third miss reaches the cap.
	err := m.VerifyChallenge(ctx, testPhone, "000001")
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	// A locked challenge rejects even the correct code.
	err = m.VerifyChallenge(ctx, testPhone, sender.LastCode())
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestFreshChallengeResetsAttemptCounter(t *testing.T) {
	m, _, sender := newTestOTPManager(t)
	ctx := context.Background()

	require.NoError(t, m.RequestChallenge(ctx, testPhone, nil, nil))
	for i := 0; i < 3; i++ {
		_ = m.VerifyChallenge(ctx, testPhone, "000001")
	}

	// A new challenge supersedes the exhausted one with a clean counter.
	require.NoError(t, m.RequestChallenge(ctx, testPhone, nil, nil))
	require.NoError(t, m.VerifyChallenge(ctx, testPhone, sender.LastCode()))
}

func TestVerifyChallengeExpired(t *testing.T) {
	otpRepo := newFakeOtpRepo()
	sender := &fakeSMSSender{}
	m := NewOTPManager(otpRepo, sender, -time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, m.RequestChallenge(ctx, testPhone, nil, nil))

	err := m.VerifyChallenge(ctx, testPhone, sender.LastCode())
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestVerifyChallengeNoChallenge(t *testing.T) {
	m, _, _ := newTestOTPManager(t)

	err := m.VerifyChallenge(context.Background(), testPhone, "123456")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRequestChallengeSMSFailureKeepsChallengeLive(t *testing.T) {
	otpRepo := newFakeOtpRepo()
	sender := &fakeSMSSender{fail: errors.New("gateway down")}
	m := NewOTPManager(otpRepo, sender, 5*time.Minute, 3)
	ctx := context.Background()

	err := m.RequestChallenge(ctx, testPhone, nil, nil)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	// The persisted challenge survives the failed send.
	challenge, err := otpRepo.GetLatestValid(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, challenge.IsUsed)
}
