// Package models defines types shared across internal packages.
package models

import "time"

// GrantProps is the custom property bag bound to a grant at creation
// time. APIToken is the user's upstream Reader credential; it is never
// stored anywhere else and is only surfaced through the request context
// at tool-call time.
type GrantProps struct {
	APIToken string `json:"api_token"`
}

// GrantMetadata holds descriptive, non-secret grant attributes.
type GrantMetadata struct {
	Label string `json:"label,omitempty"`
}

// Grant is the durable authorization record minted after a user's
// upstream credential has been verified. Immutable after creation;
// there is no token-rotation or credential-refresh flow.
type Grant struct {
	ID        string        `json:"id"`
	ClientID  string        `json:"client_id"`
	UserID    string        `json:"user_id"`
	Scopes    []string      `json:"scopes,omitempty"`
	Props     GrantProps    `json:"props"`
	Metadata  GrantMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// OAuthToken represents an issued access token. Only the SHA-256 hash
// of the token value is stored, so a leaked state database does not
// yield usable bearer tokens.
type OAuthToken struct {
	TokenHash string    `json:"token_hash"`
	GrantID   string    `json:"grant_id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OAuthClient represents a dynamically registered OAuth client.
type OAuthClient struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}
