package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxClientID
	ctxAPIToken
	ctxRemoteIP
)

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestClientID returns the OAuth client ID from the context, or "".
func RequestClientID(ctx context.Context) string {
	v, _ := ctx.Value(ctxClientID).(string)
	return v
}

// RequestAPIToken returns the upstream credential bound to the current
// session's grant, or "". This is the only channel through which tool
// handlers receive the credential.
func RequestAPIToken(ctx context.Context) string {
	v, _ := ctx.Value(ctxAPIToken).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// ContextWithGrant returns a context carrying the identity and upstream
// credential of an authenticated grant. Used by the middleware and by
// tests that invoke tool handlers directly.
func ContextWithGrant(ctx context.Context, userID, clientID, apiToken string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxClientID, clientID)
	ctx = context.WithValue(ctx, ctxAPIToken, apiToken)

	return ctx
}

// Middleware returns HTTP middleware that validates Bearer tokens and
// resolves them to their grant. Unauthenticated requests get a 401 with
// the WWW-Authenticate header pointing to the protected resource
// metadata URL (RFC 9728 Section 5.1). Tokens are validated for expiry,
// and a token whose grant has vanished is treated as invalid. Resource
// binding (RFC 8707) is enforced at the authorize and token endpoints,
// where the client-named resource is compared against this server.
func Middleware(store *Store, logger *slog.Logger, serverURL string) func(http.Handler) http.Handler {
	metadataURL := serverURL + "/.well-known/oauth-protected-resource"
	// RFC 6750 Section 3.1: no error attribute when no token was provided.
	wwwAuthNoToken := fmt.Sprintf(`Bearer resource_metadata="%s"`, metadataURL)
	// error="invalid_token" signals the client should attempt a refresh.
	wwwAuthInvalid := fmt.Sprintf(`Bearer error="invalid_token", resource_metadata="%s"`, metadataURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			ti := store.ValidateToken(token)
			if ti == nil {
				logger.Debug("middleware: invalid bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			grant := store.GetGrant(ti.GrantID)
			if grant == nil {
				logger.Warn("middleware: token references missing grant",
					slog.String("grant_id", ti.GrantID),
					slog.String("client_id", ti.ClientID),
					slog.String("ip", ip),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("user_id", ti.UserID),
				slog.String("client_id", ti.ClientID),
				slog.String("ip", ip),
			)

			// Inject the authenticated identity and the grant's bound
			// upstream credential into the request context so tool
			// handlers receive them per call.
			ctx := ContextWithGrant(r.Context(), ti.UserID, ti.ClientID, grant.Props.APIToken)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
