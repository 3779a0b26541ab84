// Package blocklist manages addresses barred from the provisioning API.
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
	"github.com/aryan0dhankhar/sitefactory/pkg/cache"
)

// ReasonSuspicious is the reason recorded for automatic blocks
const ReasonSuspicious = "suspicious_activity"

var ErrInvalidIP = errors.New("invalid ip address")

const lookupTTL = 30 * time.Second

// History is per-client request history kept elsewhere, such as the abuse
// detector's burst list.
type History interface {
	Forget(ctx context.Context, clientID string) error
}

// Service fronts the blocklist repository with a short-lived lookup cache
// and audits every change.
type Service struct {
	repo    domain.BlockListRepository
	cache   *cache.Cache[bool]
	audit   *audit.Logger
	logger  *slog.Logger
	history History
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithHistory clears h for an address when it is unblocked, so the history
// that got it blocked does not block it again on the next request.
func WithHistory(h History) Option {
	return func(s *Service) { s.history = h }
}

func NewService(repo domain.BlockListRepository, auditLogger *audit.Logger, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:   repo,
		cache:  cache.New[bool](),
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsBlocked reports whether ip is on the list
func (s *Service) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if blocked, ok := s.cache.Get(ip); ok {
		return blocked, nil
	}
	_, err := s.repo.Get(ctx, ip)
	switch {
	case err == nil:
		s.cache.Set(ip, true, lookupTTL)
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		s.cache.Set(ip, false, lookupTTL)
		return false, nil
	default:
		return false, fmt.Errorf("blocklist lookup: %w", err)
	}
}

// Block adds ip with reason and records ip_blocked. Blocking an address
// that is already listed returns domain.ErrAlreadyBlocked.
func (s *Service) Block(ctx context.Context, ip, reason string) error {
	if net.ParseIP(ip) == nil {
		return ErrInvalidIP
	}
	err := s.repo.Add(ctx, domain.BlockEntry{IP: ip, Reason: reason, BlockedAt: s.now().UTC()})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyBlocked) {
			s.cache.Set(ip, true, lookupTTL)
		}
		return err
	}
	s.cache.Set(ip, true, lookupTTL)
	s.logger.Warn("ip blocked", slog.String("ip", ip), slog.String("reason", reason))
	if s.audit != nil {
		s.audit.LogIPBlocked(ctx, ip, reason)
	}
	s.refreshGauge(ctx)
	return nil
}

// Unblock removes ip and records ip_unblocked when it was present
func (s *Service) Unblock(ctx context.Context, ip string) (bool, error) {
	removed, err := s.repo.Remove(ctx, ip)
	if err != nil {
		return false, err
	}
	s.cache.Delete(ip)
	if removed {
		s.logger.Info("ip unblocked", slog.String("ip", ip))
		if s.history != nil {
			if err := s.history.Forget(ctx, ip); err != nil {
				s.logger.Warn("failed to clear request history",
					slog.String("ip", ip),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.audit != nil {
			s.audit.LogIPUnblocked(ctx, ip)
		}
		s.refreshGauge(ctx)
	}
	return removed, nil
}

func (s *Service) List(ctx context.Context) ([]domain.BlockEntry, error) {
	return s.repo.List(ctx)
}

// Prune drops entries older than retention
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int, error) {
	n, err := s.repo.PruneBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.cache.Invalidate("")
		s.refreshGauge(ctx)
	}
	s.cache.Sweep()
	return n, nil
}

func (s *Service) refreshGauge(ctx context.Context) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return
	}
	metrics.SetBlocked(len(entries))
}
