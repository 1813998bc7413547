package auth

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alexjbarnes/reader-mcp/internal/models"
	"github.com/google/uuid"
)

// UpstreamVerifier checks a submitted API token against the upstream
// document service. VerifyToken must fail for anything but an exact
// upstream acceptance; CheckAccess confirms the token can read account
// data.
type UpstreamVerifier interface {
	VerifyToken(ctx context.Context, token string) error
	CheckAccess(ctx context.Context, token string) error
}

const (
	codeExpiry = 5 * time.Minute

	// authCodeBytes is the number of random bytes used to generate
	// an authorization code (hex-encoded to twice this length).
	authCodeBytes = 32

	// grantIDBytes sizes generated grant identifiers.
	grantIDBytes = 16

	// maxRequestBody caps form POST bodies.
	maxRequestBody = 1 << 20
)

// APITokenPrefix and apiTokenSuffixLen define the accepted shape of an
// upstream Reader API token: the literal prefix followed by exactly 38
// alphanumeric characters. The same pattern is enforced client-side in
// the token entry form and re-checked here.
const (
	APITokenPrefix    = "rwsk_"
	apiTokenSuffixLen = 38
)

var apiTokenPattern = regexp.MustCompile(`^` + APITokenPrefix + `[A-Za-z0-9]{38}$`)

// ValidAPITokenShape reports whether a submitted credential matches the
// upstream token format. Shape-only: the upstream auth endpoint is the
// authority on whether the token is live.
func ValidAPITokenShape(token string) bool {
	return len(token) == len(APITokenPrefix)+apiTokenSuffixLen && apiTokenPattern.MatchString(token)
}

// pages holds the two HTML stages of the authorize flow. Both embed the
// serialized authorization request as a hidden field so the POST
// handler can reconstruct it without server-side session state.
var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>reader-mcp</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2.5rem 2rem;
    width: 100%;
    max-width: 420px;
    box-shadow: 0 1px 3px rgba(0,0,0,0.06);
  }
  .card h1 {
    font-size: 1.25rem;
    font-weight: 600;
    margin-bottom: 0.25rem;
  }
  .card p.sub {
    font-size: 0.85rem;
    color: #666;
    margin-bottom: 1.5rem;
  }
  .consent {
    background: #f8f9fa;
    border: 1px solid #e0e0e0;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
    margin-bottom: 1rem;
  }
  .consent p { margin-bottom: 0.3rem; }
  .consent p:last-child { margin-bottom: 0; }
  .consent .redirect { color: #666; word-break: break-all; }
  .consent code { font-size: 0.8rem; }
  label {
    display: block;
    font-size: 0.85rem;
    font-weight: 500;
    margin-bottom: 0.35rem;
    color: #333;
  }
  .hint {
    font-size: 0.75rem;
    color: #666;
    margin-bottom: 1rem;
  }
  input[type="text"], input[type="password"] {
    width: 100%;
    padding: 0.55rem 0.7rem;
    border: 1px solid #d0d0d0;
    border-radius: 6px;
    font-size: 0.9rem;
    outline: none;
    transition: border-color 0.15s;
    margin-bottom: 0.5rem;
  }
  input[type="text"]:focus, input[type="password"]:focus {
    border-color: #2563eb;
    box-shadow: 0 0 0 2px rgba(37,99,235,0.15);
  }
  button {
    width: 100%;
    padding: 0.6rem;
    background: #1a1a1a;
    color: #fff;
    border: none;
    border-radius: 6px;
    font-size: 0.9rem;
    font-weight: 500;
    cursor: pointer;
    transition: background 0.15s;
  }
  button:hover { background: #333; }
  button:active { background: #000; }
</style>
</head>
<body>
<div class="card">{{end}}

{{define "foot"}}</div>
</body>
</html>{{end}}

{{define "consent"}}{{template "head"}}
  <h1>reader-mcp</h1>
  <p class="sub">Connect your Readwise Reader library.</p>
  <div class="consent">
    <p><strong>{{if .ClientName}}{{.ClientName}}{{else}}{{.ClientID}}{{end}}</strong> is requesting access to your Reader documents.</p>
    {{if .Scope}}<p>Requested scope: <code>{{.Scope}}</code></p>{{end}}
    {{if .RedirectURI}}<p class="redirect">You will be redirected to: <code>{{.RedirectURI}}</code></p>{{end}}
  </div>
  <form method="POST">
    <input type="hidden" name="state" value="{{.ReqState}}">
    <button type="submit">Approve</button>
  </form>
{{template "foot"}}{{end}}

{{define "token"}}{{template "head"}}
  <h1>reader-mcp</h1>
  <p class="sub">Enter your Readwise API token to finish connecting {{if .ClientName}}{{.ClientName}}{{else}}{{.ClientID}}{{end}}.</p>
  <form method="POST">
    <input type="hidden" name="state" value="{{.ReqState}}">
    <label for="apiToken">Readwise API token</label>
    <input type="password" id="apiToken" name="apiToken"
      pattern="{{.TokenPattern}}"
      title="Token starts with {{.TokenPrefix}} followed by 38 letters or digits"
      autocomplete="off" required autofocus>
    <p class="hint">Find your token at readwise.io/access_token. It starts with <code>{{.TokenPrefix}}</code>.</p>
    <button type="submit">Connect</button>
  </form>
{{template "foot"}}{{end}}
`))

type pageData struct {
	ClientID     string
	ClientName   string
	RedirectURI  string
	Scope        string
	ReqState     string
	TokenPattern string
	TokenPrefix  string
}

// renderPage writes one of the flow pages with anti-framing headers.
func renderPage(w http.ResponseWriter, name string, data pageData) {
	data.TokenPattern = APITokenPrefix + `[A-Za-z0-9]{38}`
	data.TokenPrefix = APITokenPrefix

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	_ = pages.ExecuteTemplate(w, name, data)
}

// redirectWithError redirects the user-agent back to the client with an
// error response per RFC 6749 Section 4.1.2.1. This must only be called
// after the redirect_uri and client_id have been validated.
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, errCode, description string) {
	params := url.Values{}
	params.Set("error", errCode)
	params.Set("error_description", description)

	if state != "" {
		params.Set("state", state)
	}

	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}

	http.Redirect(w, r, redirectURI+sep+params.Encode(), http.StatusFound)
}

// resourceMatches compares a client-supplied resource URI against the
// server's canonical URL. Trailing slashes are stripped before comparison
// because clients may include them (both forms are valid per RFC 3986).
func resourceMatches(resource, serverURL string) bool {
	return strings.TrimRight(resource, "/") == strings.TrimRight(serverURL, "/")
}

// HandleAuthorize returns the /oauth/authorize handler implementing the
// two-stage handshake: consent dialog (skipped for previously approved
// clients), token entry, upstream verification, grant completion.
func HandleAuthorize(store *Store, upstream UpstreamVerifier, logger *slog.Logger, serverURL string, cookieSecret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handleAuthorizeGET(w, r, store, serverURL, cookieSecret)
		case http.MethodPost:
			handleAuthorizePOST(w, r, store, upstream, logger, serverURL, cookieSecret)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// validateRedirectURI checks that redirectURI matches one of the client's
// registered redirect_uris. Exact match is required for HTTPS URIs.
// For localhost URIs (http://127.0.0.1 or http://localhost), prefix
// matching is used so any port and path are accepted. This follows
// RFC 8252 Section 7.3 which allows dynamic ports for loopback redirects.
//
// When a client has no registered redirect URIs, only loopback URIs
// are accepted. This prevents open redirect attacks where an attacker
// uses a known client_id to redirect authorization codes to an
// external server they control.
func validateRedirectURI(client *models.OAuthClient, redirectURI string) bool {
	if len(client.RedirectURIs) == 0 {
		u, err := url.Parse(redirectURI)
		if err != nil {
			return false
		}

		return u.Scheme == "http" && isLoopbackHost(u.Hostname())
	}

	for _, registered := range client.RedirectURIs {
		if redirectURI == registered {
			return true
		}

		// RFC 8252 Section 7.3: loopback redirect URIs may use any
		// port. Parse both as URLs and compare hostnames to prevent
		// DNS confusion (e.g. 127.0.0.1.evil.com).
		if isLocalhostPrefix(registered) && isLoopbackRedirect(redirectURI, registered) {
			return true
		}
	}

	return false
}

// isLocalhostPrefix returns true if the URI is an HTTP loopback prefix
// (http://127.0.0.1 or http://localhost) without a port or path, making
// it suitable for prefix matching per RFC 8252 Section 7.3.
func isLocalhostPrefix(uri string) bool {
	return uri == "http://127.0.0.1" || uri == "http://localhost"
}

// isLoopbackHost returns true if the hostname is a loopback address.
func isLoopbackHost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// isLoopbackRedirect checks if redirectURI is a valid loopback redirect
// matching the registered prefix URI.
func isLoopbackRedirect(redirectURI, registeredPrefix string) bool {
	ru, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}

	pu, err := url.Parse(registeredPrefix)
	if err != nil {
		return false
	}

	return ru.Scheme == pu.Scheme && ru.Hostname() == pu.Hostname()
}

func handleAuthorizeGET(w http.ResponseWriter, r *http.Request, store *Store, serverURL string, cookieSecret []byte) {
	q := r.URL.Query()

	clientID := q.Get("client_id")
	if clientID == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	client := store.GetClient(clientID)
	if client == nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		// RFC 6749 Section 3.1.2.3: when only one redirect URI is
		// registered, use it. Otherwise require an explicit value.
		if len(client.RedirectURIs) == 1 {
			redirectURI = client.RedirectURIs[0]
		} else {
			http.Error(w, "redirect_uri is required when multiple URIs are registered", http.StatusBadRequest)
			return
		}
	} else if !validateRedirectURI(client, redirectURI) {
		http.Error(w, "redirect_uri not registered for this client", http.StatusBadRequest)
		return
	}

	// RFC 6749 Section 4.1.1: response_type is REQUIRED and must be "code".
	// Errors after redirect_uri validation are returned as query params on
	// the redirect URI per RFC 6749 Section 4.1.2.1.
	responseType := q.Get("response_type")
	state := q.Get("state")

	if responseType != "code" {
		errCode := "unsupported_response_type"
		if responseType == "" {
			errCode = "invalid_request"
		}

		redirectWithError(w, r, redirectURI, state, errCode, "response_type must be \"code\"")

		return
	}

	codeChallenge := q.Get("code_challenge")
	if codeChallenge == "" {
		redirectWithError(w, r, redirectURI, state, "invalid_request", "code_challenge is required (PKCE)")
		return
	}

	codeChallengeMethod := q.Get("code_challenge_method")
	if codeChallengeMethod != "" && codeChallengeMethod != "S256" {
		redirectWithError(w, r, redirectURI, state, "invalid_request", "only S256 code_challenge_method is supported")
		return
	}

	// RFC 8707: accept the resource parameter. Clients MUST send it,
	// but we tolerate its absence for backward compatibility.
	resource := q.Get("resource")
	if resource != "" && !resourceMatches(resource, serverURL) {
		redirectWithError(w, r, redirectURI, state, "invalid_request", "resource parameter does not match this server")
		return
	}

	authReq := &AuthRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               q.Get("scope"),
		State:               state,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Resource:            resource,
	}

	encoded, err := authReq.Encode()
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	data := pageData{
		ClientID:    clientID,
		ClientName:  client.ClientName,
		RedirectURI: redirectURI,
		Scope:       authReq.Scope,
		ReqState:    encoded,
	}

	// A valid approval marker for this client skips the consent dialog
	// and goes straight to token entry. A marker for a different client
	// does not count.
	if clientApproved(r, cookieSecret, clientID) {
		renderPage(w, "token", data)
		return
	}

	renderPage(w, "consent", data)
}

// handleAuthorizePOST dispatches the two possible form submissions that
// arrive at the same endpoint. The form body is parsed exactly once;
// the branch decision is the presence of the apiToken field, not a
// fallback parse.
func handleAuthorizePOST(w http.ResponseWriter, r *http.Request, store *Store, upstream UpstreamVerifier, logger *slog.Logger, serverURL string, cookieSecret []byte) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if r.PostForm.Has("apiToken") {
		handleTokenSubmit(w, r, store, upstream, logger, serverURL)
		return
	}

	handleApprovalSubmit(w, r, store, logger, cookieSecret)
}

// recoverRequest decodes the carried state blob and re-validates it
// against the registered client. The blob is unsigned, so nothing in it
// is trusted until it has been checked against server-held records.
func recoverRequest(store *Store, encoded string) (*AuthRequest, *models.OAuthClient, bool) {
	authReq, err := DecodeAuthRequest(encoded)
	if err != nil {
		return nil, nil, false
	}

	client := store.GetClient(authReq.ClientID)
	if client == nil {
		return nil, nil, false
	}

	if authReq.RedirectURI == "" || !validateRedirectURI(client, authReq.RedirectURI) {
		return nil, nil, false
	}

	if authReq.CodeChallenge == "" {
		return nil, nil, false
	}

	return authReq, client, true
}

// handleApprovalSubmit processes the consent dialog submission: persist
// the approval marker on this response and advance to token entry.
func handleApprovalSubmit(w http.ResponseWriter, r *http.Request, store *Store, logger *slog.Logger, cookieSecret []byte) {
	encoded := r.PostFormValue("state")

	authReq, client, ok := recoverRequest(store, encoded)
	if !ok {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	recordApproval(w, r, cookieSecret, authReq.ClientID)

	logger.Info("client approved",
		slog.String("client_id", authReq.ClientID),
	)

	renderPage(w, "token", pageData{
		ClientID:    authReq.ClientID,
		ClientName:  client.ClientName,
		RedirectURI: authReq.RedirectURI,
		Scope:       authReq.Scope,
		ReqState:    encoded,
	})
}

// handleTokenSubmit processes the token entry submission: verify the
// credential upstream, confirm data access, then complete the grant and
// redirect back to the client with an authorization code.
func handleTokenSubmit(w http.ResponseWriter, r *http.Request, store *Store, upstream UpstreamVerifier, logger *slog.Logger, serverURL string) {
	authReq, _, ok := recoverRequest(store, r.PostFormValue("state"))
	if !ok {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	apiToken := r.PostFormValue("apiToken")
	if !ValidAPITokenShape(apiToken) {
		http.Error(w, "Invalid API token", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if err := upstream.VerifyToken(ctx, apiToken); err != nil {
		logger.Warn("upstream token verification failed",
			slog.String("client_id", authReq.ClientID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Invalid API token", http.StatusBadRequest)

		return
	}

	if err := upstream.CheckAccess(ctx, apiToken); err != nil {
		logger.Error("upstream data access check failed",
			slog.String("client_id", authReq.ClientID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to fetch user data", http.StatusInternalServerError)

		return
	}

	// There is no login or identity system: every successful
	// verification mints a new logical user.
	userID := uuid.NewString()

	var scopes []string
	if authReq.Scope != "" {
		scopes = strings.Fields(authReq.Scope)
	}

	grant := &models.Grant{
		ID:       RandomHex(grantIDBytes),
		ClientID: authReq.ClientID,
		UserID:   userID,
		Scopes:   scopes,
		Props:    models.GrantProps{APIToken: apiToken},
		Metadata: models.GrantMetadata{Label: "Readwise Reader"},
	}
	store.CreateGrant(grant)

	code := RandomHex(authCodeBytes)
	store.SaveCode(&AuthCode{
		Code:          code,
		ClientID:      authReq.ClientID,
		RedirectURI:   authReq.RedirectURI,
		CodeChallenge: authReq.CodeChallenge,
		Resource:      authReq.Resource,
		UserID:        userID,
		GrantID:       grant.ID,
		Scopes:        scopes,
		ExpiresAt:     time.Now().Add(codeExpiry),
	})

	logger.Info("grant created",
		slog.String("client_id", authReq.ClientID),
		slog.String("user_id", userID),
	)

	// Build redirect URL with proper encoding. Use "&" if the
	// redirect URI already contains a query component (RFC 6749
	// Section 4.1.2 requires retaining existing query parameters).
	params := url.Values{}
	params.Set("code", code)

	if authReq.State != "" {
		params.Set("state", authReq.State)
	}

	// RFC 9207: include the issuer identifier to prevent mix-up attacks.
	if serverURL != "" {
		params.Set("iss", serverURL)
	}

	sep := "?"
	if strings.Contains(authReq.RedirectURI, "?") {
		sep = "&"
	}

	http.Redirect(w, r, authReq.RedirectURI+sep+params.Encode(), http.StatusFound)
}
