// Package server provides HTTP server construction for reader-mcp.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/reader-mcp/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store        *auth.Store
	Upstream     auth.UpstreamVerifier
	MCPHandler   http.Handler
	Logger       *slog.Logger
	ServerURL    string
	CookieSecret []byte
}

// NewMux builds the HTTP mux with OAuth discovery, registration,
// authorization, token, and MCP endpoints. The MCP endpoint is
// protected by Bearer token middleware that binds each request to its
// grant's upstream credential.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", auth.HandleProtectedResourceMetadata(cfg.ServerURL))
	mux.HandleFunc("/.well-known/oauth-authorization-server", auth.HandleServerMetadata(cfg.ServerURL))
	mux.HandleFunc("/oauth/register", auth.HandleRegistration(cfg.Store))
	mux.HandleFunc("/oauth/authorize", auth.HandleAuthorize(cfg.Store, cfg.Upstream, cfg.Logger, cfg.ServerURL, cfg.CookieSecret))
	mux.HandleFunc("/oauth/token", auth.HandleToken(cfg.Store))

	authMiddleware := auth.Middleware(cfg.Store, cfg.Logger, cfg.ServerURL)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))

	return mux
}
