package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/4mln/B2B/internal/auth"
	"github.com/4mln/B2B/internal/middleware"
	"github.com/4mln/B2B/internal/model"
	"github.com/4mln/B2B/internal/ratelimit"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service *auth.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

// requestOTPRequest is the request body for POST /auth/otp/request
type requestOTPRequest struct {
	Phone string `json:"phone"`
}

// requestOTPResponse is the JSON response for otp/request
type requestOTPResponse struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expires_in"`
	DevOTP    string `json:"dev_otp,omitempty"`
}

// verifyOTPRequest is the request body for POST /auth/otp/verify
type verifyOTPRequest struct {
	Phone      string  `json:"phone"`
	Code       string  `json:"code"`
	DeviceID   string  `json:"device_id"`
	DeviceType string  `json:"device_type"`
	DeviceName *string `json:"device_name,omitempty"`
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	DeviceID   string  `json:"device_id"`
	DeviceType string  `json:"device_type"`
	DeviceName *string `json:"device_name,omitempty"`
}

// tokenResponse is the JSON shape of an issued token pair
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// loginResponse is the JSON response for successful authentication
type loginResponse struct {
	tokenResponse
	User   userResponse   `json:"user"`
	Device deviceResponse `json:"device"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID    string  `json:"id"`
	Phone string  `json:"phone"`
	Email *string `json:"email,omitempty"`
}

// deviceResponse is the device object in API responses
type deviceResponse struct {
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	DeviceName *string   `json:"device_name,omitempty"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// sessionResponse is the session object in API responses
type sessionResponse struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	LoginMethod string    `json:"login_method"`
	IsActive    bool      `json:"is_active"`
	IPAddress   *string   `json:"ip_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{ID: u.ID.String(), Phone: u.Phone, Email: u.Email}
}

func toDeviceResponse(d model.Device) deviceResponse {
	return deviceResponse{
		DeviceID:   d.DeviceID,
		DeviceType: d.DeviceType,
		DeviceName: d.DeviceName,
		LastUsedAt: d.LastUsedAt,
		CreatedAt:  d.CreatedAt,
	}
}

func toTokenResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    pair.ExpiresIn,
	}
}

// HandleRequestOTP handles POST /auth/otp/request
func (h *AuthHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		respondWithError(w, http.StatusBadRequest, "phone is required")
		return
	}

	ip := getClientIP(r)
	userAgent := r.UserAgent()

	result, err := h.service.RequestOTP(r.Context(), req.Phone, &ip, &userAgent)
	if err != nil {
		logMaskedPhone(req.Phone, "OTP request failed: %v", err)
		writeServiceError(w, err)
		return
	}

	response := requestOTPResponse{Message: "otp_sent", ExpiresIn: result.ExpiresInSeconds}
	if result.Bypass {
		response.Message = "otp_bypassed"
		response.DevOTP = "000000"
	}
	respondWithJSON(w, http.StatusOK, response)
}

// HandleVerifyOTP handles POST /auth/otp/verify
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	req.Code = strings.TrimSpace(req.Code)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.Phone == "" || req.Code == "" || req.DeviceID == "" {
		respondWithError(w, http.StatusBadRequest, "phone, code and device_id are required")
		return
	}
	if req.DeviceType == "" {
		req.DeviceType = "unknown"
	}

	ip := getClientIP(r)
	userAgent := r.UserAgent()

	result, err := h.service.VerifyOTPAndLogin(r.Context(), req.Phone, req.Code, req.DeviceID, req.DeviceType, req.DeviceName, &ip, &userAgent)
	if err != nil {
		logMaskedPhone(req.Phone, "OTP verification failed: %v", err)
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, loginResponse{
		tokenResponse: toTokenResponse(result.TokenPair),
		User:          toUserResponse(result.User),
		Device:        toDeviceResponse(result.Device),
	})
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.Email == "" || req.Password == "" || req.DeviceID == "" {
		respondWithError(w, http.StatusBadRequest, "email, password and device_id are required")
		return
	}
	if req.DeviceType == "" {
		req.DeviceType = "unknown"
	}

	ip := getClientIP(r)
	userAgent := r.UserAgent()

	result, err := h.service.Login(r.Context(), req.Email, req.Password, req.DeviceID, req.DeviceType, req.DeviceName, &ip, &userAgent)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, loginResponse{
		tokenResponse: toTokenResponse(result.TokenPair),
		User:          toUserResponse(result.User),
		Device:        toDeviceResponse(result.Device),
	})
}

// refreshRequest is the request body for POST /auth/refresh and /auth/logout
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.RefreshToken == "" || req.DeviceID == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token and device_id are required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, req.DeviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toTokenResponse(pair))
}

// HandleLogout handles POST /auth/logout. Always returns 200 so the
// response never reveals whether the presented token was still live.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	h.service.Logout(r.Context(), req.RefreshToken, req.DeviceID)
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleLogoutAll handles POST /auth/logout-all (protected)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":       "logged out everywhere",
		"revoked_count": count,
	})
}

// revokeDeviceRequest is the request body for POST /auth/revoke-device
type revokeDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// HandleRevokeDevice handles POST /auth/revoke-device (protected)
func (h *AuthHandler) HandleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req revokeDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		respondWithError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	if err := h.service.RevokeDevice(r.Context(), userID, req.DeviceID); err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "device revoked"})
}

// HandleListDevices handles GET /auth/devices (protected)
func (h *AuthHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	devices, err := h.service.ListDevices(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// HandleListSessions handles GET /auth/sessions (protected)
func (h *AuthHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:          s.ID.String(),
			DeviceID:    s.DeviceID,
			LoginMethod: s.LoginMethod,
			IsActive:    s.IsActive,
			IPAddress:   s.IPAddress,
			CreatedAt:   s.CreatedAt,
			ExpiresAt:   s.ExpiresAt,
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, toUserResponse(*user))
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var limited *ratelimit.RateLimitedError
	var locked *ratelimit.LockedError

	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(locked.RetryAfter)))
		respondWithError(w, http.StatusForbidden, "account temporarily locked")
	case errors.Is(err, auth.ErrAccountLocked):
		respondWithError(w, http.StatusForbidden, "account temporarily locked")
	case errors.Is(err, auth.ErrChallengeNotFound):
		respondWithError(w, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, auth.ErrInvalidCode):
		respondWithError(w, http.StatusBadRequest, "invalid code")
	case errors.Is(err, auth.ErrAttemptsExhausted):
		respondWithError(w, http.StatusBadRequest, "too many incorrect attempts, request a new code")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrDeviceNotFound):
		respondWithError(w, http.StatusNotFound, "device not found")
	case errors.Is(err, auth.ErrDependencyUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		log.Printf("Unhandled service error: %v", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return r.RemoteAddr
}

// logMaskedPhone logs a message with masked phone number
func logMaskedPhone(phone, format string, args ...interface{}) {
	log.Printf("Phone "+maskPhone(phone)+": "+format, args...)
}

// maskPhone masks a phone number for logging (e.g., +49******89)
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
