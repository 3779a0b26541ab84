package domain

import (
	"context"
	"sync"
	"time"
)

// RoleAdministrator is the only role this system grants.
const RoleAdministrator = "administrator"

// AdminAccount is a network user that owns one or more tenants
type AdminAccount struct {
	ID           int64
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time

	// Credential holds the generated password of a freshly created account
	// until the welcome notification reads it. Nil for reused accounts.
	Credential *TemporaryCredential `json:"-"`
}

// RoleBinding grants a role to an account on exactly one tenant
type RoleBinding struct {
	AccountID int64
	SiteID    int64
	Role      string
	CreatedAt time.Time
}

// AccountRepository stores network accounts and their per-site role bindings.
type AccountRepository interface {
	Create(ctx context.Context, account *AdminAccount) error
	GetByEmail(ctx context.Context, email string) (*AdminAccount, error)
	GetByID(ctx context.Context, id int64) (*AdminAccount, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	BindRole(ctx context.Context, binding RoleBinding) error
	UnbindRole(ctx context.Context, accountID, siteID int64) error
	ListBindings(ctx context.Context, accountID int64) ([]RoleBinding, error)
}

// TemporaryCredential is a write-once, read-once secret. Reveal hands the value
// out a single time and wipes it.
type TemporaryCredential struct {
	mu    sync.Mutex
	value string
	taken bool
}

// NewTemporaryCredential wraps a freshly generated password
func NewTemporaryCredential(value string) *TemporaryCredential {
	return &TemporaryCredential{value: value}
}

// Reveal returns the secret on the first call and ("", false) afterwards.
func (c *TemporaryCredential) Reveal() (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken {
		return "", false
	}
	v := c.value
	c.value = ""
	c.taken = true
	return v, true
}

// Erase discards the secret without reading it.
func (c *TemporaryCredential) Erase() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.value = ""
	c.taken = true
	c.mu.Unlock()
}

// String never prints the secret.
func (c *TemporaryCredential) String() string { return "[redacted]" }
