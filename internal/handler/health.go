package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/infrastructure/redis"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	redisClient *redis.Client
	db          *sql.DB
	platform    domain.SitePlatform
	logger      *slog.Logger
}

// NewHealthHandler creates a new health handler. Nil dependencies are
// reported as not configured and do not fail readiness.
func NewHealthHandler(
	redisClient *redis.Client,
	db *sql.DB,
	platform domain.SitePlatform,
	logger *slog.Logger,
) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthHandler{
		redisClient: redisClient,
		db:          db,
		platform:    platform,
		logger:      logger,
	}
}

// HealthResponse represents the health status response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /healthz - simple liveness check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /readyz. It returns 200 only if every configured
// dependency answers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true
	check := func(name string, configured bool, ping func(context.Context) error) {
		if !configured {
			checks[name] = "not configured"
			return
		}
		if err := ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	check("redis", h.redisClient != nil, h.redisClient.Ping)
	check("postgres", h.db != nil, func(ctx context.Context) error { return h.db.PingContext(ctx) })
	check("platform", h.platform != nil, func(ctx context.Context) error { return h.platform.Ping(ctx) })

	status := "ready"
	statusCode := http.StatusOK
	if !healthy {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadinessResponse{Status: status, Checks: checks})

	h.logger.Info("readiness check",
		slog.String("status", status),
		slog.String("redis", checks["redis"]),
		slog.String("postgres", checks["postgres"]),
		slog.String("platform", checks["platform"]),
	)
}
