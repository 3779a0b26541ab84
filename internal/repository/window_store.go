package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/infrastructure/redis"
)

const windowKeyPrefix = "sitefactory:"

// RedisWindowStore keeps rate-limit windows and burst histories in Redis,
// relying on key TTLs for expiry.
type RedisWindowStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisWindowStore(client *redis.Client) *RedisWindowStore {
	return &RedisWindowStore{client: client, now: time.Now}
}

func (s *RedisWindowStore) Get(ctx context.Context, key string) (domain.Window, error) {
	n, _, err := s.client.Counter(ctx, windowKeyPrefix+key)
	if err != nil {
		return domain.Window{}, err
	}
	// the window start is not needed by readers of a live counter
	return domain.Window{Count: int(n)}, nil
}

// Consume takes one request from the window; the first hit sets its expiry.
func (s *RedisWindowStore) Consume(ctx context.Context, key string, limit int, window time.Duration) (domain.Window, bool, error) {
	n, ttl, ok, err := s.client.ConsumeWindow(ctx, windowKeyPrefix+key, limit, window)
	if err != nil {
		return domain.Window{}, false, err
	}
	if ttl < 0 {
		ttl = window
	}
	return domain.Window{
		Count:       int(n),
		WindowStart: s.now().Add(ttl - window),
	}, ok, nil
}

func (s *RedisWindowStore) RecordHit(ctx context.Context, key string, at time.Time, keep int, ttl time.Duration) ([]time.Time, error) {
	raw, err := s.client.PushCapped(ctx, windowKeyPrefix+key, strconv.FormatInt(at.UnixNano(), 10), keep, ttl)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(raw))
	for _, v := range raw {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt burst entry %q: %w", v, err)
		}
		out = append(out, time.Unix(0, ns))
	}
	return out, nil
}

// Clear drops the counter or history stored under key
func (s *RedisWindowStore) Clear(ctx context.Context, key string) error {
	return s.client.Delete(ctx, windowKeyPrefix+key)
}

// MemoryWindowStore is the single-process WindowStore. Expired windows are
// reset lazily on the next access.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]memWindow
	hits    map[string]memHits
	now     func() time.Time
}

type memWindow struct {
	count   int
	start   time.Time
	expires time.Time
}

type memHits struct {
	at      []time.Time
	expires time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		windows: make(map[string]memWindow),
		hits:    make(map[string]memHits),
		now:     time.Now,
	}
}

// SetClock replaces the time source; used by tests.
func (s *MemoryWindowStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryWindowStore) Get(_ context.Context, key string) (domain.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !s.now().Before(w.expires) {
		return domain.Window{}, nil
	}
	return domain.Window{Count: w.count, WindowStart: w.start}, nil
}

func (s *MemoryWindowStore) Consume(_ context.Context, key string, limit int, window time.Duration) (domain.Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expires) {
		w = memWindow{start: now, expires: now.Add(window)}
	}
	if w.count >= limit {
		s.windows[key] = w
		return domain.Window{Count: w.count, WindowStart: w.start}, false, nil
	}
	w.count++
	s.windows[key] = w
	return domain.Window{Count: w.count, WindowStart: w.start}, true, nil
}

func (s *MemoryWindowStore) RecordHit(_ context.Context, key string, at time.Time, keep int, ttl time.Duration) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hits[key]
	if !ok || !s.now().Before(h.expires) {
		h = memHits{}
	}
	h.at = append([]time.Time{at}, h.at...)
	if keep > 0 && len(h.at) > keep {
		h.at = h.at[:keep]
	}
	h.expires = s.now().Add(ttl)
	s.hits[key] = h
	return append([]time.Time(nil), h.at...), nil
}

func (s *MemoryWindowStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	delete(s.hits, key)
	return nil
}
