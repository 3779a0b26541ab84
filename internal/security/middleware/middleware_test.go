package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
	"github.com/aryan0dhankhar/sitefactory/internal/security/auth"
	"github.com/aryan0dhankhar/sitefactory/pkg/requestctx"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		trust   bool
		want    string
	}{
		{"remote only", nil, "203.0.113.5:4000", true, "203.0.113.5"},
		{"client ip header", map[string]string{"X-Client-IP": "198.51.100.2"}, "10.0.0.1:1", true, "198.51.100.2"},
		{"first public forwarded", map[string]string{"X-Forwarded-For": "10.1.1.1, 198.51.100.3, 198.51.100.4"}, "10.0.0.1:1", true, "198.51.100.3"},
		{"private only falls back", map[string]string{"X-Forwarded-For": "192.168.1.2"}, "127.0.0.1:9", true, "127.0.0.1"},
		{"untrusted headers ignored", map[string]string{"X-Forwarded-For": "198.51.100.3"}, "10.0.0.1:1", false, "10.0.0.1"},
		{"ipv6 remote", nil, "[::1]:8080", true, "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trust))
		})
	}
}

func TestRequestIDAndClientInfo(t *testing.T) {
	var gotID, gotIP, gotUA string
	h := RequestID(ClientInfo(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestctx.RequestID(r.Context())
		gotIP = requestctx.ClientIP(r.Context())
		gotUA = requestctx.UserAgent(r.Context())
	})))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.8:1234"
	r.Header.Set("User-Agent", "Mozilla/5.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.NotEmpty(t, gotID)
	assert.Equal(t, gotID, w.Header().Get(RequestIDHeader))
	assert.Equal(t, "203.0.113.8", gotIP)
	assert.Equal(t, "Mozilla/5.0", gotUA)

	r.Header.Set(RequestIDHeader, "fixed-id")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "fixed-id", gotID)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestAdminAuth(t *testing.T) {
	sink := audit.NewMemorySink()
	guard := auth.NewGuard("tok", audit.NewLogger(quiet, sink))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := AdminAuth(guard, quiet)(ok)

	r := httptest.NewRequest(http.MethodGet, "/api/admin/security/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, sink.Records(), 1)

	r.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	unconfigured := AdminAuth(auth.NewGuard("", nil), quiet)(ok)
	w = httptest.NewRecorder()
	unconfigured.ServeHTTP(w, r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMaxBodyBytes(t *testing.T) {
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := MaxBodyBytes(16, quiet)(read)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/create-site", strings.NewReader(`{"a":"b"}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/create-site", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestValidateJSONContentType(t *testing.T) {
	h := ValidateJSONContentType(quiet)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodPost, "/create-site", strings.NewReader("a=b"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/create-site", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLoggerKeepsStatus(t *testing.T) {
	h := RequestLogger(quiet)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
