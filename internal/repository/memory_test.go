package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

func TestTenantReserveIsAtomic(t *testing.T) {
	repo := NewMemoryTenantRepository()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Reserve(ctx, &domain.Tenant{Slug: "acme-corp", Title: "Acme Corp"})
			if err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrSlugTaken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTenantLifecycle(t *testing.T) {
	repo := NewMemoryTenantRepository()
	ctx := context.Background()

	tenant := &domain.Tenant{Slug: "acme", Title: "Acme", Meta: map[string]string{"city": "Springfield"}}
	require.NoError(t, repo.Reserve(ctx, tenant))
	assert.Equal(t, domain.TenantPending, tenant.Status)

	_, err := repo.GetBySiteID(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.AttachSite(ctx, "acme", 42))
	require.NoError(t, repo.SetOwner(ctx, "acme", 7))
	require.NoError(t, repo.SetStatus(ctx, "acme", domain.TenantCompleted, ""))

	got, err := repo.GetBySiteID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Slug)
	assert.Equal(t, int64(7), got.OwnerUserID)
	assert.Equal(t, domain.TenantCompleted, got.Status)
	assert.Equal(t, "Springfield", got.Meta["city"])

	got.Meta["city"] = "changed"
	again, err := repo.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Springfield", again.Meta["city"])

	assert.ErrorIs(t, repo.SetStatus(ctx, "missing", domain.TenantFailed, "x"), domain.ErrNotFound)
}

func TestTenantRelease(t *testing.T) {
	repo := NewMemoryTenantRepository()
	ctx := context.Background()

	assert.ErrorIs(t, repo.Release(ctx, "ghost"), domain.ErrNotFound)

	require.NoError(t, repo.Reserve(ctx, &domain.Tenant{Slug: "acme", Title: "Acme"}))
	require.NoError(t, repo.Release(ctx, "acme"))
	_, err := repo.GetBySlug(ctx, "acme")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// the slug is free again
	require.NoError(t, repo.Reserve(ctx, &domain.Tenant{Slug: "acme", Title: "Acme"}))
	require.NoError(t, repo.AttachSite(ctx, "acme", 9))
	assert.ErrorIs(t, repo.Release(ctx, "acme"), domain.ErrNotFound)
	got, err := repo.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.SiteID)
}

func TestTenantListByStatus(t *testing.T) {
	repo := NewMemoryTenantRepository()
	ctx := context.Background()
	for i, st := range []domain.TenantStatus{domain.TenantPending, domain.TenantCompleted, domain.TenantAdminBound} {
		slug := fmt.Sprintf("site-%d", i)
		require.NoError(t, repo.Reserve(ctx, &domain.Tenant{Slug: slug}))
		require.NoError(t, repo.SetStatus(ctx, slug, st, ""))
	}

	stuck, err := repo.ListByStatus(ctx, domain.TenantPending, domain.TenantAdminBound)
	require.NoError(t, err)
	assert.Len(t, stuck, 2)
}

func TestAccountUniqueness(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	a := &domain.AdminAccount{Email: "Jane@Example.com", Username: "jane_example.com"}
	require.NoError(t, repo.Create(ctx, a))
	assert.Greater(t, a.ID, domain.NetworkAdminID)

	err := repo.Create(ctx, &domain.AdminAccount{Email: "jane@example.com", Username: "other"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	err = repo.Create(ctx, &domain.AdminAccount{Email: "x@example.com", Username: "jane_example.com"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)

	got, err := repo.GetByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	exists, err := repo.UsernameExists(ctx, "jane_example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAccountBindings(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	a := &domain.AdminAccount{Email: "a@x.com", Username: "a_x.com"}
	require.NoError(t, repo.Create(ctx, a))

	require.NoError(t, repo.BindRole(ctx, domain.RoleBinding{AccountID: a.ID, SiteID: 10, Role: domain.RoleAdministrator}))
	require.NoError(t, repo.BindRole(ctx, domain.RoleBinding{AccountID: a.ID, SiteID: 11, Role: domain.RoleAdministrator}))
	require.NoError(t, repo.BindRole(ctx, domain.RoleBinding{AccountID: a.ID, SiteID: 10, Role: domain.RoleAdministrator}))

	list, err := repo.ListBindings(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(10), list[0].SiteID)

	require.NoError(t, repo.UnbindRole(ctx, a.ID, 10))
	assert.ErrorIs(t, repo.UnbindRole(ctx, a.ID, 10), domain.ErrNotFound)
	assert.ErrorIs(t, repo.BindRole(ctx, domain.RoleBinding{AccountID: 999, SiteID: 1}), domain.ErrNotFound)
}

func TestBlockListPrune(t *testing.T) {
	repo := NewMemoryBlockListRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Add(ctx, domain.BlockEntry{IP: "198.51.100.1", Reason: "manual", BlockedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, repo.Add(ctx, domain.BlockEntry{IP: "198.51.100.2", Reason: "suspicious_activity", BlockedAt: now}))
	assert.ErrorIs(t, repo.Add(ctx, domain.BlockEntry{IP: "198.51.100.2"}), domain.ErrAlreadyBlocked)

	n, err := repo.PruneBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "198.51.100.2", list[0].IP)

	removed, err := repo.Remove(ctx, "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Remove(ctx, "198.51.100.2")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryWindowStoreConsumesUpToLimit(t *testing.T) {
	store := NewMemoryWindowStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		w, ok, err := store.Consume(ctx, "ip", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, w.Count)
		assert.Equal(t, now, w.WindowStart)
	}

	w, ok, err := store.Consume(ctx, "ip", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, w.Count)

	now = now.Add(time.Hour)
	w, err = store.Get(ctx, "ip")
	require.NoError(t, err)
	assert.Equal(t, 0, w.Count)

	w, ok, err = store.Consume(ctx, "ip", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, now, w.WindowStart)
}

func TestMemoryWindowStoreRecordHitKeepsNewest(t *testing.T) {
	store := NewMemoryWindowStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })
	ctx := context.Background()

	var hits []time.Time
	var err error
	for i := 0; i < 12; i++ {
		hits, err = store.RecordHit(ctx, "burst", base.Add(time.Duration(i)*time.Second), 10, time.Minute)
		require.NoError(t, err)
	}
	require.Len(t, hits, 10)
	assert.Equal(t, base.Add(11*time.Second), hits[0])
	assert.Equal(t, base.Add(2*time.Second), hits[9])
}

func TestMemoryWindowStoreClear(t *testing.T) {
	store := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	_, _, err := store.Consume(ctx, "client", 5, time.Minute)
	require.NoError(t, err)
	_, err = store.RecordHit(ctx, "client", now, 10, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "client"))
	w, err := store.Get(ctx, "client")
	require.NoError(t, err)
	assert.Zero(t, w.Count)
	hits, err := store.RecordHit(ctx, "client", now, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}
