package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// Operation names accepted by Memory.FailOn
const (
	OpCreateSite       = "create_site"
	OpCreatePage       = "create_page"
	OpCreateMenu       = "create_menu"
	OpUpdateSettings   = "update_settings"
	OpAddAdministrator = "add_administrator"
	OpRemoveUser       = "remove_user"
)

// Site is the state Memory keeps per created site
type Site struct {
	ID       int64
	Spec     domain.SiteSpec
	Pages    []domain.PageDescriptor
	Menus    map[string][]domain.MenuItem
	Settings domain.SiteSettings
	Admins   map[int64]domain.PlatformUser
}

// Memory is an in-process SitePlatform used by the memory backend and by
// tests. Site id 1 is the network's main site, so ids start at 2.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	nextPost int64
	bySlug   map[string]int64
	sites    map[int64]*Site
	failures map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		nextID:   2,
		nextPost: 1,
		bySlug:   make(map[string]int64),
		sites:    make(map[int64]*Site),
		failures: make(map[string]error),
	}
}

// FailOn makes every later call of op return err; a nil err clears it
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Occupy marks slug as taken by a site this service does not know about
func (m *Memory) Occupy(slug string) int64 {
	id, _ := m.CreateSite(context.Background(), domain.SiteSpec{Slug: slug, OwnerUserID: domain.NetworkAdminID})
	return id
}

// Site returns a copy of the site with id
func (m *Memory) Site(id int64) (Site, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok {
		return Site{}, false
	}
	cp := *s
	cp.Pages = append([]domain.PageDescriptor(nil), s.Pages...)
	cp.Menus = make(map[string][]domain.MenuItem, len(s.Menus))
	for k, v := range s.Menus {
		cp.Menus[k] = append([]domain.MenuItem(nil), v...)
	}
	cp.Admins = make(map[int64]domain.PlatformUser, len(s.Admins))
	for k, v := range s.Admins {
		cp.Admins[k] = v
	}
	return cp, true
}

// SiteCount returns how many sites exist
func (m *Memory) SiteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sites)
}

func (m *Memory) CreateSite(_ context.Context, spec domain.SiteSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpCreateSite]; err != nil {
		return 0, err
	}
	if _, exists := m.bySlug[spec.Slug]; exists {
		return 0, fmt.Errorf("%w: %s", domain.ErrSlugTaken, spec.Slug)
	}
	id := m.nextID
	m.nextID++
	m.bySlug[spec.Slug] = id
	m.sites[id] = &Site{
		ID:     id,
		Spec:   spec,
		Menus:  make(map[string][]domain.MenuItem),
		Admins: make(map[int64]domain.PlatformUser),
	}
	return id, nil
}

func (m *Memory) site(op string, id int64) (*Site, error) {
	if err := m.failures[op]; err != nil {
		return nil, err
	}
	s, ok := m.sites[id]
	if !ok {
		return nil, fmt.Errorf("site %d: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (m *Memory) CreatePage(_ context.Context, siteID int64, page domain.PageDescriptor) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(OpCreatePage, siteID)
	if err != nil {
		return 0, err
	}
	s.Pages = append(s.Pages, page)
	id := m.nextPost
	m.nextPost++
	return id, nil
}

func (m *Memory) CreateMenu(_ context.Context, siteID int64, name, location string, items []domain.MenuItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(OpCreateMenu, siteID)
	if err != nil {
		return 0, err
	}
	s.Menus[location] = append([]domain.MenuItem(nil), items...)
	id := m.nextPost
	m.nextPost++
	return id, nil
}

func (m *Memory) UpdateSettings(_ context.Context, siteID int64, settings domain.SiteSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(OpUpdateSettings, siteID)
	if err != nil {
		return err
	}
	s.Settings = settings
	return nil
}

func (m *Memory) AddAdministrator(_ context.Context, siteID int64, user domain.PlatformUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(OpAddAdministrator, siteID)
	if err != nil {
		return err
	}
	s.Admins[user.AccountID] = user
	return nil
}

func (m *Memory) RemoveUser(_ context.Context, siteID, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(OpRemoveUser, siteID)
	if err != nil {
		return err
	}
	if _, ok := s.Admins[accountID]; !ok {
		return fmt.Errorf("user %d on site %d: %w", accountID, siteID, domain.ErrNotFound)
	}
	delete(s.Admins, accountID)
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}
