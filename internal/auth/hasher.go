package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a long-lived secret with bcrypt.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword compares a password against its bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashOTP returns SHA-256(code) as hex. OTP codes are short-lived and
// rate-limited, so a fast hash is acceptable here, unlike passwords.
func HashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// VerifyOTPHash compares a code against a stored hex hash in constant time.
func VerifyOTPHash(code, hashHex string) bool {
	computed := HashOTP(code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hashHex)) == 1
}

// HashToken returns SHA-256(token) as hex, used for device refresh-token binding.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
