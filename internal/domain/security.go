package domain

import (
	"context"
	"time"
)

// Window is the fixed rate-limit window of one client
type Window struct {
	Count       int
	WindowStart time.Time
}

// WindowStore keeps per-client counters with TTL expiry. Consume must be
// atomic per key: it starts a new window when none is live and increments
// only while the count is below limit, reporting whether it did.
type WindowStore interface {
	Get(ctx context.Context, key string) (Window, error)
	Consume(ctx context.Context, key string, limit int, window time.Duration) (Window, bool, error)
	RecordHit(ctx context.Context, key string, at time.Time, keep int, ttl time.Duration) ([]time.Time, error)
	Clear(ctx context.Context, key string) error
}

// BlockEntry is one address on the blocklist
type BlockEntry struct {
	IP        string
	Reason    string
	BlockedAt time.Time
}

// BlockListRepository persists blocked addresses until removed or pruned.
type BlockListRepository interface {
	Add(ctx context.Context, entry BlockEntry) error
	Remove(ctx context.Context, ip string) (bool, error)
	Get(ctx context.Context, ip string) (*BlockEntry, error)
	List(ctx context.Context) ([]BlockEntry, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
