package domain

import "context"

// NetworkAdminID is the owner assigned to a new site until its real
// administrator has been bound.
const NetworkAdminID int64 = 1

// SiteSpec is what the site platform needs to create a tenant site
type SiteSpec struct {
	Slug        string
	Title       string
	OwnerUserID int64
	BlueprintID string
	Meta        map[string]string
}

// PlatformUser mirrors an admin account onto the site platform. The platform
// only ever receives the bcrypt hash, and only for freshly created accounts.
type PlatformUser struct {
	AccountID    int64
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
}

// MenuItem is one entry of a navigation menu
type MenuItem struct {
	Title  string
	PageID int64
}

// SiteSettings are the per-site options written after content is created
type SiteSettings struct {
	BlogName         string
	BlogDescription  string
	PermalinkPattern string
	FrontPageID      int64
	PrimaryMenuID    int64
}

// SitePlatform is the external multisite API. Implementations must return
// ErrSlugTaken when the network already has a site at the slug.
type SitePlatform interface {
	CreateSite(ctx context.Context, spec SiteSpec) (int64, error)
	CreatePage(ctx context.Context, siteID int64, page PageDescriptor) (int64, error)
	CreateMenu(ctx context.Context, siteID int64, name, location string, items []MenuItem) (int64, error)
	UpdateSettings(ctx context.Context, siteID int64, settings SiteSettings) error
	AddAdministrator(ctx context.Context, siteID int64, user PlatformUser) error
	RemoveUser(ctx context.Context, siteID int64, accountID int64) error
	Ping(ctx context.Context) error
}

// Message is a plaintext outbound notification
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers plaintext notifications.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
