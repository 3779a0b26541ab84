package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
	"github.com/aryan0dhankhar/sitefactory/pkg/requestctx"
)

// Action is the kind of event an audit record describes
type Action string

const (
	ActionSiteCreationAttempt Action = "site_creation_attempt"
	ActionSiteCreated         Action = "site_created"
	ActionSiteCreationFailed  Action = "site_creation_failed"
	ActionAuthFailure         Action = "auth_failure"
	ActionRateLimitHit        Action = "rate_limit_hit"
	ActionIPBlocked           Action = "ip_blocked"
	ActionBlockedRequest      Action = "blocked_request"
	ActionIPUnblocked         Action = "ip_unblocked"
	ActionUserDetached        Action = "user_detached"
	ActionLogsCleaned         Action = "logs_cleaned"
)

// Record is one immutable audit entry, serialised as a JSON line
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    Action         `json:"action"`
	Outcome   string         `json:"outcome,omitempty"`
	SiteID    int64          `json:"site_id,omitempty"`
	Slug      string         `json:"slug,omitempty"`
	Email     string         `json:"admin_email,omitempty"`
	Blueprint string         `json:"blueprint,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	ClientIP  string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink persists audit records.
type Sink interface {
	Write(rec Record) error
}

// Logger writes audit records to a sink, mirrors them to slog and fans them
// out to live subscribers.
type Logger struct {
	logger *slog.Logger
	sink   Sink
	now    func() time.Time

	mu   sync.RWMutex
	subs map[int]chan Record
	next int
}

// NewLogger creates an audit logger. A nil sink only mirrors to slog.
func NewLogger(logger *slog.Logger, sink Sink) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		logger: logger,
		sink:   sink,
		now:    time.Now,
		subs:   make(map[int]chan Record),
	}
}

// Record completes rec from the context and appends it. Audit writes never
// fail the caller; sink errors are logged and counted.
func (al *Logger) Record(ctx context.Context, rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = al.now().UTC()
	}
	if rec.RequestID == "" {
		rec.RequestID = requestctx.RequestID(ctx)
	}
	if rec.ClientIP == "" {
		rec.ClientIP = requestctx.ClientIP(ctx)
	}
	if rec.UserAgent == "" {
		rec.UserAgent = requestctx.UserAgent(ctx)
	}

	if al.sink != nil {
		if err := al.sink.Write(rec); err != nil {
			metrics.ObserveAuditWriteError()
			al.logger.Error("failed to write audit record",
				slog.String("action", string(rec.Action)),
				slog.String("error", err.Error()),
			)
		}
	}

	al.logger.Info("audit",
		slog.String("id", rec.ID),
		slog.String("action", string(rec.Action)),
		slog.String("outcome", rec.Outcome),
		slog.Int64("site_id", rec.SiteID),
		slog.String("slug", rec.Slug),
		slog.String("reason", rec.Reason),
		slog.String("ip_address", rec.ClientIP),
		slog.String("request_id", rec.RequestID),
	)

	al.publish(rec)
	return rec
}

// Subscribe returns a channel receiving every subsequent record. Slow
// subscribers drop records rather than block writers.
func (al *Logger) Subscribe(buffer int) (<-chan Record, func()) {
	ch := make(chan Record, buffer)
	al.mu.Lock()
	id := al.next
	al.next++
	al.subs[id] = ch
	al.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			al.mu.Lock()
			delete(al.subs, id)
			al.mu.Unlock()
			close(ch)
		})
	}
}

func (al *Logger) publish(rec Record) {
	al.mu.RLock()
	defer al.mu.RUnlock()
	for _, ch := range al.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

func (al *Logger) LogAttempt(ctx context.Context, slug, email, blueprint string) {
	al.Record(ctx, Record{Action: ActionSiteCreationAttempt, Outcome: "initiated", Slug: slug, Email: email, Blueprint: blueprint})
}

func (al *Logger) LogSiteCreated(ctx context.Context, siteID int64, slug, email, blueprint string, details map[string]any) {
	al.Record(ctx, Record{Action: ActionSiteCreated, Outcome: "success", SiteID: siteID, Slug: slug, Email: email, Blueprint: blueprint, Details: details})
}

func (al *Logger) LogCreationFailed(ctx context.Context, reason string, details map[string]any) {
	al.Record(ctx, Record{Action: ActionSiteCreationFailed, Outcome: "failure", Reason: reason, Details: details})
}

func (al *Logger) LogAuthFailure(ctx context.Context, reason string) {
	al.Record(ctx, Record{Action: ActionAuthFailure, Outcome: "denied", Reason: reason})
}

func (al *Logger) LogRateLimitHit(ctx context.Context, count int) {
	al.Record(ctx, Record{Action: ActionRateLimitHit, Outcome: "denied", Details: map[string]any{"count": count}})
}

func (al *Logger) LogIPBlocked(ctx context.Context, ip, reason string) {
	al.Record(ctx, Record{Action: ActionIPBlocked, Outcome: "blocked", Reason: reason, Details: map[string]any{"blocked_ip": ip}})
}

// LogBlockedRequest records a request turned away because ip is on the blocklist
func (al *Logger) LogBlockedRequest(ctx context.Context, ip string) {
	al.Record(ctx, Record{Action: ActionBlockedRequest, Outcome: "denied", Reason: "ip_blocked", Details: map[string]any{"blocked_ip": ip}})
}

func (al *Logger) LogIPUnblocked(ctx context.Context, ip string) {
	al.Record(ctx, Record{Action: ActionIPUnblocked, Outcome: "unblocked", Details: map[string]any{"blocked_ip": ip}})
}

type recentReader interface {
	Recent(limit int) ([]Record, error)
}

type janitor interface {
	CompressBackups(cutoff time.Time) (int, error)
	ClearOlderThan(cutoff time.Time) (int, error)
}

// ErrUnsupported is returned when the configured sink cannot serve a query.
var ErrUnsupported = errors.New("audit sink does not support this operation")

// Recent returns the newest records first.
func (al *Logger) Recent(limit int) ([]Record, error) {
	r, ok := al.sink.(recentReader)
	if !ok {
		return nil, ErrUnsupported
	}
	return r.Recent(limit)
}

// CompressBackups gzips rotated files older than age.
func (al *Logger) CompressBackups(age time.Duration) (int, error) {
	j, ok := al.sink.(janitor)
	if !ok {
		return 0, nil
	}
	return j.CompressBackups(al.now().Add(-age))
}

// ClearOldLogs removes log files older than the given number of days and
// records a logs_cleaned entry.
func (al *Logger) ClearOldLogs(ctx context.Context, days int) (int, error) {
	j, ok := al.sink.(janitor)
	if !ok {
		return 0, nil
	}
	removed, err := j.ClearOlderThan(al.now().AddDate(0, 0, -days))
	if err != nil {
		return removed, err
	}
	al.Record(ctx, Record{
		Action:  ActionLogsCleaned,
		Outcome: "success",
		Details: map[string]any{"days_kept": days, "files_removed": removed},
	})
	return removed, nil
}
