package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/security/blocklist"
	"github.com/aryan0dhankhar/sitefactory/internal/security/ratelimit"
)

// BlockRequest is the body of POST /api/admin/blocklist
type BlockRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

// BlockedIP is one blocklist entry as returned to operators
type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blockedAt"`
}

// SecurityStats summarises the blocklist and quota settings
type SecurityStats struct {
	BlockedCount  int         `json:"blockedCount"`
	Blocked       []BlockedIP `json:"blocked"`
	WindowSeconds int         `json:"window"`
	MaxRequests   int         `json:"maxRequests"`
}

// SecurityHandler serves the operator blocklist endpoints
type SecurityHandler struct {
	blocks  *blocklist.Service
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewSecurityHandler creates a new security admin handler
func NewSecurityHandler(blocks *blocklist.Service, limiter *ratelimit.Limiter, logger *slog.Logger) *SecurityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityHandler{blocks: blocks, limiter: limiter, logger: logger}
}

// Block handles POST /api/admin/blocklist
func (h *SecurityHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	err := h.blocks.Block(r.Context(), req.IP, req.Reason)
	switch {
	case err == nil:
	case errors.Is(err, blocklist.ErrInvalidIP):
		writeFailure(w, http.StatusBadRequest, "invalid ip address")
		return
	case errors.Is(err, domain.ErrAlreadyBlocked):
		writeFailure(w, http.StatusConflict, "ip already blocked")
		return
	default:
		h.logger.Error("failed to block ip", slog.String("ip", req.IP), slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "failed to block ip")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "ip": req.IP, "reason": req.Reason})
}

// Unblock handles DELETE /api/admin/blocklist/{ip}
func (h *SecurityHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	removed, err := h.blocks.Unblock(r.Context(), ip)
	if err != nil {
		h.logger.Error("failed to unblock ip", slog.String("ip", ip), slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "failed to unblock ip")
		return
	}
	if !removed {
		writeFailure(w, http.StatusNotFound, "ip not blocked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ip": ip})
}

// Stats handles GET /api/admin/security/stats
func (h *SecurityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blocks.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list blocklist", slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "failed to load security stats")
		return
	}

	blocked := make([]BlockedIP, 0, len(entries))
	for _, e := range entries {
		blocked = append(blocked, BlockedIP{IP: e.IP, Reason: e.Reason, BlockedAt: e.BlockedAt})
	}
	writeJSON(w, http.StatusOK, SecurityStats{
		BlockedCount:  len(blocked),
		Blocked:       blocked,
		WindowSeconds: int(h.limiter.Window().Seconds()),
		MaxRequests:   h.limiter.MaxRequests(),
	})
}
