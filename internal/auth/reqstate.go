package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// AuthRequest carries the original OAuth authorization request across
// the two unauthenticated form round-trips (consent dialog and token
// entry). It is serialized into a hidden form field rather than held
// server-side, because the browser is the only party that spans both
// legs. The blob is opaque but not signed; every field is re-validated
// against the registered client when it comes back.
type AuthRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope,omitempty"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Resource            string `json:"resource,omitempty"`
}

// Encode serializes the request as base64url(JSON) for embedding in a
// hidden form field.
func (a *AuthRequest) Encode() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encoding authorization request: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeAuthRequest reverses Encode. An empty or malformed blob is an
// error; a decoded request must at minimum identify the client.
func DecodeAuthRequest(encoded string) (*AuthRequest, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty authorization request state")
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding authorization request: %w", err)
	}

	var req AuthRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing authorization request: %w", err)
	}

	if req.ClientID == "" {
		return nil, fmt.Errorf("authorization request missing client_id")
	}

	return &req, nil
}
