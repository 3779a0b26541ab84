package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/reliability/retry"
	"github.com/aryan0dhankhar/sitefactory/internal/repository"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
	"github.com/aryan0dhankhar/sitefactory/internal/security/blocklist"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

var fast = retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, BackoffMultiplier: 1}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(`{"action":"site_created"}`+"\n"), 0o640))
	at := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	day := 24 * time.Hour

	dir := t.TempDir()
	sink, err := audit.NewFileSink(dir, 1<<20)
	require.NoError(t, err)
	al := audit.NewLogger(quiet, sink)

	backup := filepath.Join(dir, "2024-01", "site-factory.log.2024-01-31-23-59-59.backup")
	writeAged(t, backup, 10*day)
	expired := filepath.Join(dir, "2023-11", "site-factory.log")
	writeAged(t, expired, 40*day)

	blockRepo := repository.NewMemoryBlockListRepository()
	require.NoError(t, blockRepo.Add(ctx, domain.BlockEntry{IP: "198.51.100.1", Reason: "manual", BlockedAt: time.Now().Add(-40 * day)}))
	require.NoError(t, blockRepo.Add(ctx, domain.BlockEntry{IP: "198.51.100.2", Reason: "manual", BlockedAt: time.Now()}))

	tenants := repository.NewMemoryTenantRepository()
	require.NoError(t, tenants.Reserve(ctx, &domain.Tenant{Slug: "half-done"}))
	require.NoError(t, tenants.AttachSite(ctx, "half-done", 7))
	require.NoError(t, tenants.Reserve(ctx, &domain.Tenant{Slug: "finished"}))
	require.NoError(t, tenants.SetStatus(ctx, "finished", domain.TenantCompleted, ""))

	w := NewMaintenanceWorker(blocklist.NewService(blockRepo, al, quiet), al, tenants, quiet, MaintenanceConfig{
		BlocklistRetention: 30 * day,
		AuditCompressAfter: 7 * day,
		AuditRetentionDays: 30,
		StuckAfter:         30 * time.Minute,
	})
	w.policy = fast
	w.now = func() time.Time { return time.Now().Add(time.Hour) }

	report := w.RunOnce(ctx)

	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, 1, report.Compressed)
	assert.Equal(t, 1, report.Cleared)
	require.Len(t, report.StuckTenants, 1)
	assert.Equal(t, "half-done", report.StuckTenants[0].Slug)
	assert.Equal(t, domain.TenantCreated, report.StuckTenants[0].Status)

	assert.NoFileExists(t, backup)
	assert.FileExists(t, backup+".gz")
	assert.NoFileExists(t, expired)

	left, err := blockRepo.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "198.51.100.2", left[0].IP)

	recent, err := al.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, audit.ActionLogsCleaned, recent[0].Action)
}

func TestRunOnceRecentTenantsAreNotStuck(t *testing.T) {
	ctx := context.Background()
	tenants := repository.NewMemoryTenantRepository()
	require.NoError(t, tenants.Reserve(ctx, &domain.Tenant{Slug: "in-flight"}))

	w := NewMaintenanceWorker(nil, nil, tenants, quiet, MaintenanceConfig{StuckAfter: 30 * time.Minute})
	w.policy = fast

	assert.Empty(t, w.RunOnce(ctx).StuckTenants)
}

type brokenTenants struct{ *repository.MemoryTenantRepository }

func (brokenTenants) ListByStatus(context.Context, ...domain.TenantStatus) ([]*domain.Tenant, error) {
	return nil, errors.New("connection reset")
}

func TestRunOnceContinuesPastFailingTask(t *testing.T) {
	ctx := context.Background()
	blockRepo := repository.NewMemoryBlockListRepository()
	require.NoError(t, blockRepo.Add(ctx, domain.BlockEntry{IP: "198.51.100.1", BlockedAt: time.Now().Add(-90 * 24 * time.Hour)}))

	w := NewMaintenanceWorker(blocklist.NewService(blockRepo, nil, quiet), nil,
		brokenTenants{repository.NewMemoryTenantRepository()}, quiet,
		MaintenanceConfig{BlocklistRetention: time.Hour, StuckAfter: time.Minute})
	w.policy = fast

	report := w.RunOnce(ctx)
	assert.Equal(t, 1, report.Pruned)
	assert.Nil(t, report.StuckTenants)
}

func TestStartStopsOnCancel(t *testing.T) {
	w := NewMaintenanceWorker(nil, nil, nil, quiet, MaintenanceConfig{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
