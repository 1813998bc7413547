// Package auth implements OAuth 2.1 authorization for the MCP server.
// It acts as both the authorization server and resource server. The
// authorize flow does not authenticate a local user; instead it binds a
// verified upstream Readwise API token to a freshly minted grant.
// Tokens, clients, and grants are held in memory and optionally written
// through to a bbolt state database.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/reader-mcp/internal/models"
	"github.com/alexjbarnes/reader-mcp/internal/state"
)

// AuthCode represents a pending authorization code. Codes are
// short-lived and never persisted.
type AuthCode struct {
	Code          string
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	Resource      string
	UserID        string
	GrantID       string
	Scopes        []string
	ExpiresAt     time.Time
}

const (
	// maxClients caps the number of registered clients to prevent
	// unbounded growth from unauthenticated registration requests.
	maxClients = 100

	// cleanupInterval controls how often expired entries are reaped.
	cleanupInterval = 5 * time.Minute

	// registrationWindow and registrationMax rate-limit unauthenticated
	// /oauth/register requests.
	registrationWindow = time.Minute
	registrationMax    = 10
)

// Store holds all OAuth state.
type Store struct {
	mu      sync.RWMutex
	codes   map[string]*AuthCode           // code -> AuthCode
	tokens  map[string]*models.OAuthToken  // sha256(token) hex -> token record
	clients map[string]*models.OAuthClient // client_id -> client
	grants  map[string]*models.Grant       // grant_id -> grant
	stopGC  chan struct{}

	persist *state.State
	logger  *slog.Logger

	// registrationTimes tracks recent registration timestamps for
	// rate limiting.
	registrationTimes []time.Time
}

// NewStore creates an OAuth store and starts a background goroutine
// that periodically removes expired tokens and codes. When persist is
// non-nil, previously saved clients, tokens, and grants are loaded and
// new ones are written through. Call Stop() to clean up the goroutine.
func NewStore(persist *state.State, logger *slog.Logger) *Store {
	s := &Store{
		codes:   make(map[string]*AuthCode),
		tokens:  make(map[string]*models.OAuthToken),
		clients: make(map[string]*models.OAuthClient),
		grants:  make(map[string]*models.Grant),
		stopGC:  make(chan struct{}),
		persist: persist,
		logger:  logger,
	}

	if persist != nil {
		s.loadPersisted()
	}

	go s.gcLoop()

	return s
}

// loadPersisted restores clients, grants, and unexpired tokens from the
// state database. Load failures are logged, not fatal: the server can
// run with an empty store.
func (s *Store) loadPersisted() {
	clients, err := s.persist.AllClients()
	if err != nil {
		s.logger.Warn("loading persisted clients", slog.String("error", err.Error()))
	}

	for i := range clients {
		c := clients[i]
		s.clients[c.ClientID] = &c
	}

	grants, err := s.persist.AllGrants()
	if err != nil {
		s.logger.Warn("loading persisted grants", slog.String("error", err.Error()))
	}

	for i := range grants {
		g := grants[i]
		s.grants[g.ID] = &g
	}

	tokens, err := s.persist.AllTokens()
	if err != nil {
		s.logger.Warn("loading persisted tokens", slog.String("error", err.Error()))
	}

	now := time.Now()

	for i := range tokens {
		t := tokens[i]
		if now.After(t.ExpiresAt) {
			if err := s.persist.DeleteToken(t.TokenHash); err != nil {
				s.logger.Warn("deleting expired persisted token", slog.String("error", err.Error()))
			}

			continue
		}

		s.tokens[t.TokenHash] = &t
	}
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	close(s.stopGC)
}

// gcLoop periodically removes expired tokens and codes.
func (s *Store) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopGC:
			return
		}
	}
}

// cleanup removes all expired entries from the store.
func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ac := range s.codes {
		if now.After(ac.ExpiresAt) {
			delete(s.codes, k)
		}
	}

	for k, ti := range s.tokens {
		if now.After(ti.ExpiresAt) {
			delete(s.tokens, k)

			if s.persist != nil {
				if err := s.persist.DeleteToken(k); err != nil {
					s.logger.Warn("deleting expired persisted token", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// SaveCode stores an authorization code.
func (s *Store) SaveCode(ac *AuthCode) {
	s.mu.Lock()
	s.codes[ac.Code] = ac
	s.mu.Unlock()
}

// ConsumeCode retrieves and deletes an authorization code.
// Returns nil if not found or expired.
func (s *Store) ConsumeCode(code string) *AuthCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok {
		return nil
	}

	delete(s.codes, code)

	if time.Now().After(ac.ExpiresAt) {
		return nil
	}

	return ac
}

// SaveToken stores an access token record, keyed by the SHA-256 hash of
// the raw token value.
func (s *Store) SaveToken(rawToken string, ti *models.OAuthToken) {
	ti.TokenHash = HashToken(rawToken)

	s.mu.Lock()
	s.tokens[ti.TokenHash] = ti
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveToken(*ti); err != nil {
			s.logger.Warn("persisting token", slog.String("error", err.Error()))
		}
	}
}

// ValidateToken checks if a raw token is valid and not expired.
// Returns nil if invalid.
func (s *Store) ValidateToken(rawToken string) *models.OAuthToken {
	hash := HashToken(rawToken)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ti, ok := s.tokens[hash]
	if !ok {
		return nil
	}

	if time.Now().After(ti.ExpiresAt) {
		return nil
	}

	return ti
}

// CreateGrant records a completed authorization: a fresh user identity
// bound to the verified upstream credential. The grant is immutable
// after this call.
func (s *Store) CreateGrant(g *models.Grant) {
	g.CreatedAt = time.Now()

	s.mu.Lock()
	s.grants[g.ID] = g
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveGrant(*g); err != nil {
			s.logger.Warn("persisting grant", slog.String("error", err.Error()))
		}
	}
}

// GetGrant returns the grant with the given ID, or nil.
func (s *Store) GetGrant(grantID string) *models.Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grants[grantID]
}

// RegistrationAllowed checks whether a new registration is allowed
// under the rate limit. Returns false if the limit is exceeded.
func (s *Store) RegistrationAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	window := now.Add(-registrationWindow)

	// Prune entries older than the window.
	valid := s.registrationTimes[:0]

	for _, t := range s.registrationTimes {
		if t.After(window) {
			valid = append(valid, t)
		}
	}

	s.registrationTimes = valid

	if len(s.registrationTimes) >= registrationMax {
		return false
	}

	s.registrationTimes = append(s.registrationTimes, now)

	return true
}

// RegisterClient stores a new client registration. Returns false if the
// maximum number of registered clients has been reached.
func (s *Store) RegisterClient(ci *models.OAuthClient) bool {
	s.mu.Lock()

	if len(s.clients) >= maxClients {
		s.mu.Unlock()
		return false
	}

	s.clients[ci.ClientID] = ci
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveClient(*ci); err != nil {
			s.logger.Warn("persisting client", slog.String("error", err.Error()))
		}
	}

	return true
}

// GetClient returns the client info for a given client_id, or nil.
func (s *Store) GetClient(clientID string) *models.OAuthClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clients[clientID]
}

// HashToken returns the SHA-256 hex digest of a token string. Used as
// the storage key so raw tokens never land in memory dumps or on disk.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
