package handler

import (
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/sitefactory/internal/blueprint"
	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// TemplatesHandler lists the blueprint catalog
type TemplatesHandler struct {
	catalog *blueprint.Catalog
	log     *slog.Logger
}

// NewTemplatesHandler creates a new templates handler
func NewTemplatesHandler(catalog *blueprint.Catalog, log *slog.Logger) *TemplatesHandler {
	return &TemplatesHandler{catalog: catalog, log: log}
}

// ServeHTTP handles GET /templates
func (h *TemplatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	templates := h.catalog.List()
	if templates == nil {
		templates = []domain.BlueprintInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"templates": templates,
	})
}
