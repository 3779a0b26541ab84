package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
	"github.com/aryan0dhankhar/sitefactory/internal/reliability/retry"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
	"github.com/aryan0dhankhar/sitefactory/internal/security/blocklist"
)

// Task names used in logs and the maintenance metric
const (
	TaskPruneBlocklist = "prune_blocklist"
	TaskCompressAudit  = "compress_audit"
	TaskClearAudit     = "clear_audit"
	TaskStuckTenants   = "stuck_tenants"
)

// MaintenanceConfig sets the retention windows applied on every pass
type MaintenanceConfig struct {
	Interval           time.Duration
	BlocklistRetention time.Duration
	AuditCompressAfter time.Duration
	AuditRetentionDays int
	StuckAfter         time.Duration
}

// Report is the outcome of one maintenance pass
type Report struct {
	Pruned       int
	Compressed   int
	Cleared      int
	StuckTenants []*domain.Tenant
}

// MaintenanceWorker periodically prunes the blocklist, compresses and
// expires audit files and reports tenants stuck mid-provisioning. Stuck
// tenants are only reported; reconciliation is left to an operator.
type MaintenanceWorker struct {
	blocks  *blocklist.Service
	audit   *audit.Logger
	tenants domain.TenantRepository
	logger  *slog.Logger
	cfg     MaintenanceConfig
	policy  retry.Policy
	now     func() time.Time
}

// NewMaintenanceWorker creates a new maintenance worker
func NewMaintenanceWorker(
	blocks *blocklist.Service,
	auditLogger *audit.Logger,
	tenants domain.TenantRepository,
	logger *slog.Logger,
	cfg MaintenanceConfig,
) *MaintenanceWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &MaintenanceWorker{
		blocks:  blocks,
		audit:   auditLogger,
		tenants: tenants,
		logger:  logger,
		cfg:     cfg,
		policy: retry.Policy{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2,
		},
		now: time.Now,
	}
}

// Start runs a pass immediately and then on every tick until ctx is done
func (w *MaintenanceWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("maintenance worker started", slog.Duration("interval", w.cfg.Interval))
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("maintenance worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs every maintenance task. A failing task is retried with
// backoff and never stops the others.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) Report {
	var report Report

	if w.blocks != nil && w.cfg.BlocklistRetention > 0 {
		report.Pruned = w.count(ctx, TaskPruneBlocklist, func(ctx context.Context) (int, error) {
			return w.blocks.Prune(ctx, w.cfg.BlocklistRetention)
		})
	}
	if w.audit != nil && w.cfg.AuditCompressAfter > 0 {
		report.Compressed = w.count(ctx, TaskCompressAudit, func(context.Context) (int, error) {
			return w.audit.CompressBackups(w.cfg.AuditCompressAfter)
		})
	}
	if w.audit != nil && w.cfg.AuditRetentionDays > 0 {
		report.Cleared = w.count(ctx, TaskClearAudit, func(ctx context.Context) (int, error) {
			return w.audit.ClearOldLogs(ctx, w.cfg.AuditRetentionDays)
		})
	}
	if w.tenants != nil && w.cfg.StuckAfter > 0 {
		report.StuckTenants = w.stuckTenants(ctx)
	}

	w.logger.Info("maintenance pass completed",
		slog.Int("blocklist_pruned", report.Pruned),
		slog.Int("audit_compressed", report.Compressed),
		slog.Int("audit_cleared", report.Cleared),
		slog.Int("stuck_tenants", len(report.StuckTenants)),
	)
	return report
}

func (w *MaintenanceWorker) count(ctx context.Context, task string, fn retry.Func[int]) int {
	n, err := retry.Do(ctx, w.policy, w.logger, task, fn)
	if err != nil {
		w.logger.Error("maintenance task failed",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
		metrics.ObserveMaintenance(task, "error")
		return 0
	}
	metrics.ObserveMaintenance(task, "success")
	return n
}

// stuckTenants lists tenants whose last update is older than the cutoff but
// which never reached a terminal state.
func (w *MaintenanceWorker) stuckTenants(ctx context.Context) []*domain.Tenant {
	tenants, err := retry.Do(ctx, w.policy, w.logger, TaskStuckTenants, func(ctx context.Context) ([]*domain.Tenant, error) {
		return w.tenants.ListByStatus(ctx,
			domain.TenantPending,
			domain.TenantCreated,
			domain.TenantContentBootstrapped,
			domain.TenantAdminBound,
		)
	})
	if err != nil {
		w.logger.Error("maintenance task failed",
			slog.String("task", TaskStuckTenants),
			slog.String("error", err.Error()),
		)
		metrics.ObserveMaintenance(TaskStuckTenants, "error")
		return nil
	}

	cutoff := w.now().Add(-w.cfg.StuckAfter)
	var stuck []*domain.Tenant
	for _, t := range tenants {
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		stuck = append(stuck, t)
		w.logger.Warn("tenant stuck in partial provisioning",
			slog.String("slug", t.Slug),
			slog.Int64("site_id", t.SiteID),
			slog.String("status", string(t.Status)),
			slog.Time("updated_at", t.UpdatedAt),
		)
	}
	metrics.SetStuckTenants(len(stuck))
	metrics.ObserveMaintenance(TaskStuckTenants, "success")
	return stuck
}
