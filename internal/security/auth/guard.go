package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
)

var (
	// ErrNotConfigured means the server has no shared secret. It is a server
	// fault, not a client one.
	ErrNotConfigured = errors.New("shared token not configured")
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid bearer token")
)

// Reason returns the audit reason for a guard error
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "token_not_configured"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "unknown"
	}
}

// Guard checks the shared-secret bearer token. It keeps no per-call state.
type Guard struct {
	digest [sha256.Size]byte
	set    bool
	audit  *audit.Logger
}

// NewGuard creates a guard for secret. An empty secret yields a guard that
// denies everything with ErrNotConfigured.
func NewGuard(secret string, auditLogger *audit.Logger) *Guard {
	g := &Guard{audit: auditLogger}
	if secret != "" {
		g.digest = sha256.Sum256([]byte(secret))
		g.set = true
	}
	return g
}

// Authorize returns nil when token matches the shared secret. Denials are
// recorded as auth_failure.
func (g *Guard) Authorize(ctx context.Context, token string) error {
	err := g.check(token)
	if err != nil && g.audit != nil {
		g.audit.LogAuthFailure(ctx, Reason(err))
	}
	return err
}

func (g *Guard) check(token string) error {
	if !g.set {
		return ErrNotConfigured
	}
	if token == "" {
		return ErrMissingToken
	}
	// comparing digests keeps the comparison length-independent
	presented := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(presented[:], g.digest[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header, or "" when the header is absent or uses another scheme.
func ExtractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
