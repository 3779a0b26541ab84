package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// MemoryTenantRepository is an in-process tenant registry for development
// and tests. The map insert under the lock gives the same atomic reservation
// as the unique constraint.
type MemoryTenantRepository struct {
	mu     sync.RWMutex
	bySlug map[string]*domain.Tenant
	now    func() time.Time
}

func NewMemoryTenantRepository() *MemoryTenantRepository {
	return &MemoryTenantRepository{bySlug: make(map[string]*domain.Tenant), now: time.Now}
}

func copyTenant(t *domain.Tenant) *domain.Tenant {
	c := *t
	c.Meta = maps.Clone(t.Meta)
	return &c
}

func (r *MemoryTenantRepository) Reserve(_ context.Context, t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.bySlug[t.Slug]; taken {
		return domain.ErrSlugTaken
	}
	if t.Status == "" {
		t.Status = domain.TenantPending
	}
	now := r.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.bySlug[t.Slug] = copyTenant(t)
	return nil
}

func (r *MemoryTenantRepository) Release(_ context.Context, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.bySlug[slug]
	if !ok || t.SiteID != 0 || t.Status != domain.TenantPending {
		return domain.ErrNotFound
	}
	delete(r.bySlug, slug)
	return nil
}

func (r *MemoryTenantRepository) update(slug string, fn func(t *domain.Tenant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.bySlug[slug]
	if !ok {
		return domain.ErrNotFound
	}
	fn(t)
	t.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryTenantRepository) AttachSite(_ context.Context, slug string, siteID int64) error {
	return r.update(slug, func(t *domain.Tenant) {
		t.SiteID = siteID
		t.Status = domain.TenantCreated
	})
}

func (r *MemoryTenantRepository) SetOwner(_ context.Context, slug string, ownerUserID int64) error {
	return r.update(slug, func(t *domain.Tenant) { t.OwnerUserID = ownerUserID })
}

func (r *MemoryTenantRepository) SetStatus(_ context.Context, slug string, status domain.TenantStatus, reason string) error {
	return r.update(slug, func(t *domain.Tenant) {
		t.Status = status
		t.FailReason = reason
	})
}

func (r *MemoryTenantRepository) GetBySiteID(_ context.Context, siteID int64) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.bySlug {
		if t.SiteID != 0 && t.SiteID == siteID {
			return copyTenant(t), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryTenantRepository) GetBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySlug[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyTenant(t), nil
}

func (r *MemoryTenantRepository) ListByStatus(_ context.Context, statuses ...domain.TenantStatus) ([]*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Tenant
	for _, t := range r.bySlug {
		if slices.Contains(statuses, t.Status) {
			out = append(out, copyTenant(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryAccountRepository keeps accounts and role bindings in memory
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	nextID   int64
	byID     map[int64]*domain.AdminAccount
	bindings map[int64][]domain.RoleBinding
	now      func() time.Time
}

// NewMemoryAccountRepository starts ids above the network admin (id 1).
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		nextID:   domain.NetworkAdminID + 1,
		byID:     make(map[int64]*domain.AdminAccount),
		bindings: make(map[int64][]domain.RoleBinding),
		now:      time.Now,
	}
}

func (r *MemoryAccountRepository) Create(_ context.Context, a *domain.AdminAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, a.Email) {
			return domain.ErrEmailTaken
		}
		if existing.Username == a.Username {
			return domain.ErrUsernameTaken
		}
	}
	a.ID = r.nextID
	r.nextID++
	a.CreatedAt = r.now().UTC()
	stored := *a
	stored.Credential = nil
	r.byID[a.ID] = &stored
	return nil
}

func (r *MemoryAccountRepository) GetByEmail(_ context.Context, email string) (*domain.AdminAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if strings.EqualFold(a.Email, email) {
			c := *a
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id int64) (*domain.AdminAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *MemoryAccountRepository) UsernameExists(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAccountRepository) BindRole(_ context.Context, b domain.RoleBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[b.AccountID]; !ok {
		return domain.ErrNotFound
	}
	list := r.bindings[b.AccountID]
	for i := range list {
		if list[i].SiteID == b.SiteID {
			list[i].Role = b.Role
			return nil
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.now().UTC()
	}
	r.bindings[b.AccountID] = append(list, b)
	return nil
}

func (r *MemoryAccountRepository) UnbindRole(_ context.Context, accountID, siteID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.bindings[accountID]
	for i := range list {
		if list[i].SiteID == siteID {
			r.bindings[accountID] = slices.Delete(list, i, i+1)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *MemoryAccountRepository) ListBindings(_ context.Context, accountID int64) ([]domain.RoleBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.bindings[accountID]), nil
}

// MemoryBlockListRepository keeps the blocklist in memory
type MemoryBlockListRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.BlockEntry
	now     func() time.Time
}

func NewMemoryBlockListRepository() *MemoryBlockListRepository {
	return &MemoryBlockListRepository{entries: make(map[string]domain.BlockEntry), now: time.Now}
}

func (r *MemoryBlockListRepository) Add(_ context.Context, e domain.BlockEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.IP]; ok {
		return domain.ErrAlreadyBlocked
	}
	if e.BlockedAt.IsZero() {
		e.BlockedAt = r.now().UTC()
	}
	r.entries[e.IP] = e
	return nil
}

func (r *MemoryBlockListRepository) Remove(_ context.Context, ip string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[ip]
	delete(r.entries, ip)
	return ok, nil
}

func (r *MemoryBlockListRepository) Get(_ context.Context, ip string) (*domain.BlockEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[ip]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r *MemoryBlockListRepository) List(_ context.Context) ([]domain.BlockEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Collect(maps.Values(r.entries))
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedAt.After(out[j].BlockedAt) })
	return out, nil
}

func (r *MemoryBlockListRepository) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for ip, e := range r.entries {
		if e.BlockedAt.Before(cutoff) {
			delete(r.entries, ip)
			n++
		}
	}
	return n, nil
}
