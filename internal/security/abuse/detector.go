// Package abuse flags clients whose traffic looks automated.
package abuse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// Rule names reported in a Verdict
const (
	RuleBurst     = "burst"
	RuleUserAgent = "user_agent"
)

// DefaultAgentTokens are matched case-insensitively against the User-Agent.
var DefaultAgentTokens = []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python", "java"}

// historyKeep is how many timestamps are retained per client
const historyKeep = 10

// Verdict is the detector's classification of one request
type Verdict struct {
	Suspicious bool
	Rule       string
	Detail     string
}

// Config tunes the burst heuristic
type Config struct {
	Window      time.Duration
	Threshold   int
	MinGap      time.Duration
	AgentTokens []string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.MinGap <= 0 {
		c.MinGap = 10 * time.Second
	}
	if c.AgentTokens == nil {
		c.AgentTokens = DefaultAgentTokens
	}
	return c
}

// Detector applies the burst and user-agent rules. Request history lives in
// the WindowStore so every instance sees the same bursts.
type Detector struct {
	store domain.WindowStore
	cfg   Config
	now   func() time.Time
}

func NewDetector(store domain.WindowStore, cfg Config) *Detector {
	return &Detector{store: store, cfg: cfg.withDefaults(), now: time.Now}
}

// Observe records a request from clientID and classifies it against the
// client's recent history, which includes this request.
func (d *Detector) Observe(ctx context.Context, clientID, userAgent string) (Verdict, error) {
	now := d.now()
	recent, err := d.store.RecordHit(ctx, "burst:"+clientID, now, historyKeep, d.cfg.Window)
	if err != nil {
		return Verdict{}, fmt.Errorf("record request: %w", err)
	}
	return d.Evaluate(userAgent, recent, now), nil
}

// Forget drops the request history of clientID
func (d *Detector) Forget(ctx context.Context, clientID string) error {
	if err := d.store.Clear(ctx, "burst:"+clientID); err != nil {
		return fmt.Errorf("clear request history: %w", err)
	}
	return nil
}

// Evaluate classifies a request. recent holds request times newest first.
// Any matching rule makes the request suspicious.
func (d *Detector) Evaluate(userAgent string, recent []time.Time, now time.Time) Verdict {
	if v := d.burst(recent, now); v.Suspicious {
		return v
	}
	ua := strings.ToLower(userAgent)
	for _, token := range d.cfg.AgentTokens {
		if strings.Contains(ua, token) {
			return Verdict{Suspicious: true, Rule: RuleUserAgent, Detail: token}
		}
	}
	return Verdict{}
}

func (d *Detector) burst(recent []time.Time, now time.Time) Verdict {
	cutoff := now.Add(-d.cfg.Window)
	inWindow := 0
	for _, at := range recent {
		if at.After(cutoff) {
			inWindow++
		}
	}
	if inWindow <= d.cfg.Threshold || len(recent) < 2 {
		return Verdict{}
	}
	gap := recent[0].Sub(recent[1])
	if gap < 0 {
		gap = -gap
	}
	if gap >= d.cfg.MinGap {
		return Verdict{}
	}
	return Verdict{
		Suspicious: true,
		Rule:       RuleBurst,
		Detail:     fmt.Sprintf("%d requests in %s, last gap %s", inWindow, d.cfg.Window, gap.Round(time.Millisecond)),
	}
}
