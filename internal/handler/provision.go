package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/security/auth"
	"github.com/aryan0dhankhar/sitefactory/internal/service"
)

// CreateSiteRequest is the body of POST /create-site
type CreateSiteRequest struct {
	BusinessName string            `json:"businessName"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone,omitempty"`
	Address      Address           `json:"address,omitempty"`
	BusinessType string            `json:"businessType,omitempty"`
	Description  string            `json:"description,omitempty"`
	Blueprint    string            `json:"blueprint,omitempty"`
	Template     string            `json:"template,omitempty"`
	DesiredSlug  string            `json:"desiredSlug,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Address accepts either a single line or a structured object
type Address domain.Address

func (a *Address) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var line string
		if err := json.Unmarshal(data, &line); err != nil {
			return err
		}
		*a = Address{Street: strings.TrimSpace(line)}
		return nil
	}
	var structured domain.Address
	if err := json.Unmarshal(data, &structured); err != nil {
		return err
	}
	*a = Address(structured)
	return nil
}

// CreateSiteResponse is returned for a provisioned site
type CreateSiteResponse struct {
	Success  bool   `json:"success"`
	SiteID   int64  `json:"siteId"`
	SiteURL  string `json:"siteUrl"`
	AdminURL string `json:"adminUrl"`
	Message  string `json:"message"`
}

// CreateSiteHandler handles site provisioning requests
type CreateSiteHandler struct {
	provisioner *service.Provisioner
	logger      *slog.Logger
}

// NewCreateSiteHandler creates a new create-site handler
func NewCreateSiteHandler(provisioner *service.Provisioner, logger *slog.Logger) *CreateSiteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateSiteHandler{
		provisioner: provisioner,
		logger:      logger,
	}
}

// ServeHTTP handles POST /create-site requests
func (h *CreateSiteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := auth.ExtractBearer(r.Header.Get("Authorization"))

	var req CreateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reason := service.ReasonInvalidJSON
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reason = service.ReasonPayloadTooLarge
		}
		h.logger.Warn("failed to decode create-site request", slog.String("error", err.Error()))
		h.writeProvisionError(w, h.provisioner.RejectPayload(r.Context(), token, reason, err))
		return
	}

	result, err := h.provisioner.CreateSite(r.Context(), token, service.CreateSiteInput{
		BusinessName: req.BusinessName,
		Email:        req.Email,
		Phone:        req.Phone,
		Address:      domain.Address(req.Address),
		BusinessType: req.BusinessType,
		Description:  req.Description,
		Blueprint:    req.Blueprint,
		Template:     req.Template,
		DesiredSlug:  req.DesiredSlug,
		Meta:         req.Meta,
	})
	if err != nil {
		h.writeProvisionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateSiteResponse{
		Success:  true,
		SiteID:   result.SiteID,
		SiteURL:  result.SiteURL,
		AdminURL: result.AdminURL,
		Message:  result.Message,
	})
}

func (h *CreateSiteHandler) writeProvisionError(w http.ResponseWriter, err error) {
	var perr *service.ProvisionError
	if !errors.As(err, &perr) {
		h.logger.Error("unclassified provisioning error", slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, service.GenericFailureMessage)
		return
	}
	if perr.Kind == service.KindQuota && perr.RetryAfter > 0 {
		secs := int(perr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	status := perr.Kind.HTTPStatus()
	if perr.Kind == service.KindValidation && perr.Reason == service.ReasonPayloadTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	writeFailure(w, status, perr.PublicMessage())
}
