package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
)

func newAudit() (*audit.Logger, *audit.MemorySink) {
	sink := audit.NewMemorySink()
	return audit.NewLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)), sink), sink
}

func TestGuardAuthorize(t *testing.T) {
	al, sink := newAudit()
	g := NewGuard("s3cret", al)
	ctx := context.Background()

	require.NoError(t, g.Authorize(ctx, "s3cret"))
	assert.Empty(t, sink.Records())

	tests := []struct {
		name   string
		token  string
		err    error
		reason string
	}{
		{"missing", "", ErrMissingToken, "missing_token"},
		{"wrong", "s3cret!", ErrInvalidToken, "invalid_token"},
		{"prefix", "s3c", ErrInvalidToken, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(sink.Records())
			err := g.Authorize(ctx, tt.token)
			assert.ErrorIs(t, err, tt.err)
			recs := sink.Records()
			require.Len(t, recs, before+1)
			assert.Equal(t, audit.ActionAuthFailure, recs[before].Action)
			assert.Equal(t, tt.reason, recs[before].Reason)
		})
	}
}

func TestGuardWithoutSecret(t *testing.T) {
	al, sink := newAudit()
	g := NewGuard("", al)
	err := g.Authorize(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNotConfigured)
	require.Len(t, sink.Records(), 1)
	assert.Equal(t, "token_not_configured", sink.Records()[0].Reason)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearer("bearer   abc "))
	assert.Equal(t, "", ExtractBearer("Basic abc"))
	assert.Equal(t, "", ExtractBearer("abc"))
	assert.Equal(t, "", ExtractBearer(""))
}

func TestServiceTokensRoundTrip(t *testing.T) {
	st := NewServiceTokens("platform-secret", "", time.Minute)
	tok, err := st.Mint("create_site", 0)
	require.NoError(t, err)

	claims, err := st.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "create_site", claims.Action)
	assert.Equal(t, "site-factory", claims.Issuer)

	other := NewServiceTokens("different", "", time.Minute)
	_, err = other.Verify(tok)
	assert.Error(t, err)
}

func TestServiceTokensExpire(t *testing.T) {
	st := NewServiceTokens("platform-secret", "", time.Minute)
	issued := time.Now().Add(-2 * time.Minute)
	st.now = func() time.Time { return issued }
	tok, err := st.Mint("create_page", 9)
	require.NoError(t, err)

	st.now = time.Now
	_, err = st.Verify(tok)
	assert.Error(t, err)
}

func TestServiceTokensRequireSecret(t *testing.T) {
	_, err := NewServiceTokens("", "", time.Minute).Mint("create_site", 0)
	assert.Error(t, err)
}
