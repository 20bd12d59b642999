package http

import (
	"context"
	"net/http"
	"time"

	"github.com/atinyakov/cardsync/internal/models"
	"go.uber.org/zap"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	DB  Pinger
	Log *zap.Logger
}

// HealthResponse describes service health and the badge table.
type HealthResponse struct {
	Status     string                  `json:"status"`
	Database   string                  `json:"database"`
	Categories map[string]models.Badge `json:"categories"`
}

// Health pings the database with a short deadline.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Database: "ok", Categories: models.BadgeTable()}
	status := http.StatusOK
	if err := h.DB.PingContext(ctx); err != nil {
		h.Log.Warn("database ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
