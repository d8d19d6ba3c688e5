package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/4mln/B2B/internal/ledger"
)

// HealthHandler reports liveness plus the state of the backing stores.
type HealthHandler struct {
	db     *sql.DB
	ledger *ledger.Ledger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *sql.DB, revocation *ledger.Ledger) *HealthHandler {
	return &HealthHandler{db: db, ledger: revocation}
}

// ServeHTTP handles GET /health. Redis being down degrades the report
// but keeps the status 200; the service still serves OTP login.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := map[string]string{"postgres": "ok", "redis": "ok"}

	if err := h.db.PingContext(ctx); err != nil {
		components["postgres"] = "unavailable"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if err := h.ledger.Ping(ctx); err != nil {
		components["redis"] = "unavailable"
		if status == "ok" {
			status = "degraded"
		}
	}

	respondWithJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}
