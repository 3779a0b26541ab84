package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
)

// Decision is the outcome of one quota check
type Decision struct {
	Allowed     bool
	Bypassed    bool
	Count       int
	Limit       int
	WindowStart time.Time
	RetryAfter  time.Duration
}

// Limiter enforces a fixed per-client request quota over a WindowStore.
// Denied requests are not counted.
type Limiter struct {
	store          domain.WindowStore
	maxReqs        int
	window         time.Duration
	loopbackBypass bool
	audit          *audit.Logger
	logger         *slog.Logger
	now            func() time.Time
}

// Option tunes a Limiter
type Option func(*Limiter)

// WithLoopbackBypass lets loopback clients through unconditionally.
func WithLoopbackBypass(enabled bool) Option {
	return func(l *Limiter) { l.loopbackBypass = enabled }
}

func NewLimiter(store domain.WindowStore, maxRequests int, window time.Duration, auditLogger *audit.Logger, logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		store:          store,
		maxReqs:        maxRequests,
		window:         window,
		loopbackBypass: true,
		audit:          auditLogger,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func quotaKey(clientID string) string {
	return "quota:" + clientID
}

// CheckAndConsume admits clientID if it has quota left in the current
// window, consuming one request. Denials are recorded as rate_limit_hit.
func (l *Limiter) CheckAndConsume(ctx context.Context, clientID string) (Decision, error) {
	if l.loopbackBypass && IsLoopback(clientID) {
		return Decision{Allowed: true, Bypassed: true, Limit: l.maxReqs}, nil
	}

	w, ok, err := l.store.Consume(ctx, quotaKey(clientID), l.maxReqs, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}
	d := Decision{
		Allowed:     ok,
		Count:       w.Count,
		Limit:       l.maxReqs,
		WindowStart: w.WindowStart,
	}
	if !ok {
		if !w.WindowStart.IsZero() {
			d.RetryAfter = max(w.WindowStart.Add(l.window).Sub(l.now()), 0)
		}
		metrics.ObserveRejection("quota")
		l.logger.Warn("rate limit exceeded",
			slog.String("client_ip", clientID),
			slog.Int("count", w.Count),
			slog.Int("limit", l.maxReqs),
		)
		if l.audit != nil {
			l.audit.LogRateLimitHit(ctx, w.Count)
		}
	}
	return d, nil
}

// Usage reports the client's consumption without consuming
func (l *Limiter) Usage(ctx context.Context, clientID string) (domain.Window, error) {
	return l.store.Get(ctx, quotaKey(clientID))
}

// MaxRequests is the configured quota per window
func (l *Limiter) MaxRequests() int { return l.maxReqs }

func (l *Limiter) Window() time.Duration { return l.window }

// IsLoopback reports whether clientID names the local host
func IsLoopback(clientID string) bool {
	if strings.EqualFold(clientID, "localhost") {
		return true
	}
	ip := net.ParseIP(clientID)
	return ip != nil && ip.IsLoopback()
}
