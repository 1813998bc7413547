package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alexjbarnes/reader-mcp/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUpstream struct{}

func (stubUpstream) VerifyToken(context.Context, string) error { return nil }
func (stubUpstream) CheckAccess(context.Context, string) error { return nil }

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := auth.NewStore(nil, logger)
	t.Cleanup(store.Stop)

	return NewMux(MuxConfig{
		Store:    store,
		Upstream: stubUpstream{},
		MCPHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("mcp ok"))
		}),
		Logger:       logger,
		ServerURL:    "https://reader.example.com",
		CookieSecret: []byte(strings.Repeat("s", 32)),
	})
}

func TestMux_DiscoveryEndpoints(t *testing.T) {
	mux := testMux(t)

	for _, path := range []string{
		"/.well-known/oauth-protected-resource",
		"/.well-known/oauth-authorization-server",
	} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}
}

func TestMux_MCPRequiresAuth(t *testing.T) {
	mux := testMux(t)

	req := httptest.NewRequest("POST", "/mcp", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestMux_AuthorizeRouted(t *testing.T) {
	mux := testMux(t)

	// Unknown client: the authorize handler answers, not a 404.
	req := httptest.NewRequest("GET", "/oauth/authorize?client_id=nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
