package domain

import (
	"context"
	"time"
)

// TenantStatus tracks how far provisioning got for a tenant. The row is never
// rolled back, so a non-terminal status marks a partially provisioned site.
type TenantStatus string

const (
	TenantPending             TenantStatus = "pending"
	TenantCreated             TenantStatus = "created"
	TenantContentBootstrapped TenantStatus = "content_bootstrapped"
	TenantAdminBound          TenantStatus = "admin_bound"
	TenantCompleted           TenantStatus = "completed"
	TenantFailed              TenantStatus = "failed"
	TenantConflict            TenantStatus = "conflict"
)

// Terminal reports whether no further pipeline step will touch the tenant.
func (s TenantStatus) Terminal() bool {
	return s == TenantCompleted || s == TenantFailed || s == TenantConflict
}

// Address is the postal address submitted with a provisioning request
type Address struct {
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
}

// ProvisioningRequest is the validated input of one site creation
type ProvisioningRequest struct {
	BusinessName string
	AdminEmail   string
	Phone        string
	DesiredSlug  string
	BlueprintID  string
	BusinessType string
	Address      Address
	Description  string
	Meta         map[string]string
}

// BusinessMeta flattens the request into the token map used by blueprints and
// stored as tenant metadata. Empty values are omitted so defaults apply.
func (r ProvisioningRequest) BusinessMeta() map[string]string {
	meta := make(map[string]string, len(r.Meta)+9)
	for k, v := range r.Meta {
		meta[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			meta[k] = v
		}
	}
	set("businessName", r.BusinessName)
	set("email", r.AdminEmail)
	set("phone", r.Phone)
	set("businessType", r.BusinessType)
	set("description", r.Description)
	set("street", r.Address.Street)
	set("city", r.Address.City)
	set("state", r.Address.State)
	set("zip", r.Address.Zip)
	return meta
}

// Tenant is one site on the multisite network. SiteID is assigned by the
// platform and is zero until the platform has created the site.
type Tenant struct {
	SiteID      int64
	Slug        string
	Title       string
	Status      TenantStatus
	OwnerUserID int64
	BlueprintID string
	Meta        map[string]string
	FailReason  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TenantRepository is the tenant registry. Reserve must reject a duplicate
// slug with ErrSlugTaken atomically (unique constraint), never by a prior read.
// Release drops a reservation that never got a platform site; it returns
// ErrNotFound when the slug is unknown or already backed by a site.
type TenantRepository interface {
	Reserve(ctx context.Context, tenant *Tenant) error
	Release(ctx context.Context, slug string) error
	AttachSite(ctx context.Context, slug string, siteID int64) error
	SetOwner(ctx context.Context, slug string, ownerUserID int64) error
	SetStatus(ctx context.Context, slug string, status TenantStatus, reason string) error
	GetBySiteID(ctx context.Context, siteID int64) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListByStatus(ctx context.Context, statuses ...TenantStatus) ([]*Tenant, error)
}
