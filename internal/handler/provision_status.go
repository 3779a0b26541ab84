package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/service"
)

// SiteStatusResponse reports how far provisioning of a site got
type SiteStatusResponse struct {
	Success      bool              `json:"success"`
	SiteID       int64             `json:"siteId"`
	Slug         string            `json:"slug"`
	Status       string            `json:"status"` // pending, created, content_bootstrapped, admin_bound, completed, failed
	SiteURL      string            `json:"siteUrl"`
	Blueprint    string            `json:"blueprint"`
	BusinessMeta map[string]string `json:"businessMeta"`
	FailReason   string            `json:"failReason,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// SiteStatusHandler handles GET /site-status/{siteId}
type SiteStatusHandler struct {
	provisioner *service.Provisioner
	logger      *slog.Logger
}

// NewSiteStatusHandler creates a new site status handler
func NewSiteStatusHandler(provisioner *service.Provisioner, logger *slog.Logger) *SiteStatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SiteStatusHandler{
		provisioner: provisioner,
		logger:      logger,
	}
}

func (h *SiteStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	siteID, err := strconv.ParseInt(r.PathValue("siteId"), 10, 64)
	if err != nil || siteID < 1 {
		writeFailure(w, http.StatusBadRequest, "site id must be a positive integer")
		return
	}

	tenant, err := h.provisioner.SiteStatus(r.Context(), siteID)
	if errors.Is(err, domain.ErrNotFound) {
		writeFailure(w, http.StatusNotFound, "site not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load site status", slog.Int64("site_id", siteID), slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "failed to load site status")
		return
	}

	meta := tenant.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	writeJSON(w, http.StatusOK, SiteStatusResponse{
		Success:      true,
		SiteID:       tenant.SiteID,
		Slug:         tenant.Slug,
		Status:       string(tenant.Status),
		SiteURL:      h.provisioner.SiteURL(tenant.Slug),
		Blueprint:    tenant.BlueprintID,
		BusinessMeta: meta,
		FailReason:   tenant.FailReason,
		CreatedAt:    tenant.CreatedAt,
		UpdatedAt:    tenant.UpdatedAt,
	})
}
