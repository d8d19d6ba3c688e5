package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/4mln/B2B/internal/auth"
	"github.com/4mln/B2B/internal/model"
	"github.com/4mln/B2B/internal/repo"
)

type contextKey string

const (
	userKey     contextKey = "user"
	userIDKey   contextKey = "user_id"
	deviceIDKey contextKey = "device_id"
)

// AuthMiddleware validates JWT access tokens, loads the user from the DB,
// and attaches user and device identity to the request context. Refresh
// tokens are rejected here; they are only good for the refresh endpoint.
func AuthMiddleware(jwtService *auth.JWTService, userRepo repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.TokenType != auth.TokenTypeAccess || claims.Refresh {
				respondWithError(w, http.StatusUnauthorized, "refresh token cannot access the API")
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid token subject")
				return
			}

			user, err := userRepo.GetByID(r.Context(), userID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "user not found")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			ctx = context.WithValue(ctx, userIDKey, userID)
			if claims.DeviceID != "" {
				ctx = context.WithValue(ctx, deviceIDKey, claims.DeviceID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// GetDeviceID extracts the device ID claim from context
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
