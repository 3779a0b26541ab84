package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/pkg/slug"
)

// CreateSiteInput is the raw create-site payload. Blueprint and Template
// are aliases; Blueprint wins when both are set.
type CreateSiteInput struct {
	BusinessName string
	Email        string
	Phone        string
	Address      domain.Address
	BusinessType string
	Description  string
	Blueprint    string
	Template     string
	DesiredSlug  string
	Meta         map[string]string
}

const (
	maxNameLen  = 100
	maxEmailLen = 254
	maxFieldLen = 500
	maxMetaKeys = 32
)

var (
	phonePattern     = regexp.MustCompile(`^[0-9\s\-+().]{3,32}$`)
	blueprintPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
	metaKeyPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)
)

// suspiciousPatterns are rejected anywhere in the payload, case-insensitively
var suspiciousPatterns = []string{
	"javascript:",
	"vbscript:",
	"onload=",
	"onerror=",
	"onclick=",
	"<script",
	"</script>",
	"eval(",
	"document.cookie",
	"window.location",
}

func invalid(format string, args ...any) *ProvisionError {
	return &ProvisionError{Kind: KindValidation, State: StateQuotaChecked, Reason: fmt.Sprintf(format, args...)}
}

// Validate normalises in into a ProvisioningRequest and returns the base
// slug derived from the desired slug or the business name.
func Validate(in CreateSiteInput) (domain.ProvisioningRequest, string, error) {
	req := domain.ProvisioningRequest{
		BusinessName: strings.TrimSpace(in.BusinessName),
		AdminEmail:   strings.TrimSpace(in.Email),
		Phone:        strings.TrimSpace(in.Phone),
		BusinessType: strings.TrimSpace(in.BusinessType),
		Description:  strings.TrimSpace(in.Description),
		Address: domain.Address{
			Street: strings.TrimSpace(in.Address.Street),
			City:   strings.TrimSpace(in.Address.City),
			State:  strings.TrimSpace(in.Address.State),
			Zip:    strings.TrimSpace(in.Address.Zip),
		},
	}

	if err := rejectSuspicious(in); err != nil {
		return req, "", err
	}

	if req.BusinessName == "" {
		return req, "", invalid("businessName is required")
	}
	if utf8.RuneCountInString(req.BusinessName) > maxNameLen {
		return req, "", invalid("businessName must be at most %d characters", maxNameLen)
	}

	if req.AdminEmail == "" {
		return req, "", invalid("email is required")
	}
	addr, err := mail.ParseAddress(req.AdminEmail)
	if err != nil || addr.Address != req.AdminEmail || len(req.AdminEmail) > maxEmailLen {
		return req, "", invalid("email is not a valid address")
	}
	req.AdminEmail = strings.ToLower(req.AdminEmail)

	if req.Phone != "" && !phonePattern.MatchString(req.Phone) {
		return req, "", invalid("phone is not a valid phone number")
	}

	for name, v := range map[string]string{
		"businessType":   req.BusinessType,
		"description":    req.Description,
		"address.street": req.Address.Street,
		"address.city":   req.Address.City,
		"address.state":  req.Address.State,
		"address.zip":    req.Address.Zip,
	} {
		if utf8.RuneCountInString(v) > maxFieldLen {
			return req, "", invalid("%s must be at most %d characters", name, maxFieldLen)
		}
	}

	req.BlueprintID = strings.TrimSpace(in.Blueprint)
	if req.BlueprintID == "" {
		req.BlueprintID = strings.TrimSpace(in.Template)
	}
	if req.BlueprintID == "" {
		req.BlueprintID = "default"
	}
	if !blueprintPattern.MatchString(req.BlueprintID) {
		return req, "", invalid("blueprint is not a valid identifier")
	}

	if len(in.Meta) > maxMetaKeys {
		return req, "", invalid("meta may hold at most %d fields", maxMetaKeys)
	}
	if len(in.Meta) > 0 {
		req.Meta = make(map[string]string, len(in.Meta))
		for k, v := range in.Meta {
			if !metaKeyPattern.MatchString(k) {
				return req, "", invalid("meta key %q is not allowed", k)
			}
			if utf8.RuneCountInString(v) > maxFieldLen {
				return req, "", invalid("meta.%s must be at most %d characters", k, maxFieldLen)
			}
			req.Meta[k] = strings.TrimSpace(v)
		}
	}

	req.DesiredSlug = strings.TrimSpace(in.DesiredSlug)
	source := req.BusinessName
	if req.DesiredSlug != "" {
		source = req.DesiredSlug
	}
	base := slug.Make(source)
	if base == "" {
		return req, "", invalid("businessName must contain letters or digits")
	}
	if len(base) > 60 {
		base = strings.TrimRight(base[:60], "-")
	}
	return req, base, nil
}

func rejectSuspicious(in CreateSiteInput) error {
	fields := []string{
		in.BusinessName, in.Email, in.Phone, in.BusinessType, in.Description,
		in.Blueprint, in.Template, in.DesiredSlug,
		in.Address.Street, in.Address.City, in.Address.State, in.Address.Zip,
	}
	for k, v := range in.Meta {
		fields = append(fields, k, v)
	}
	for _, f := range fields {
		lower := strings.ToLower(f)
		for _, p := range suspiciousPatterns {
			if strings.Contains(lower, p) {
				return invalid("request contains disallowed content")
			}
		}
	}
	return nil
}

// Payload returns the submitted fields for audit records
func (in CreateSiteInput) Payload() map[string]any {
	p := map[string]any{
		"businessName": in.BusinessName,
		"email":        in.Email,
		"phone":        in.Phone,
		"businessType": in.BusinessType,
		"blueprint":    in.Blueprint,
		"template":     in.Template,
		"address":      in.Address,
	}
	if in.DesiredSlug != "" {
		p["desiredSlug"] = in.DesiredSlug
	}
	if len(in.Meta) > 0 {
		p["meta"] = in.Meta
	}
	return p
}
