package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// approvalCookieName holds the signed list of client IDs this
	// browser has already approved.
	approvalCookieName = "reader_mcp_approved_clients"

	// approvalCookieMaxAge is how long an approval marker persists.
	approvalCookieMaxAge = 30 * 24 * time.Hour

	// maxApprovedClients bounds the cookie size. Oldest entries are
	// dropped first; re-approval is a single extra click.
	maxApprovedClients = 20
)

// signApproval computes the HMAC-SHA256 tag over an encoded payload.
func signApproval(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))

	return hex.EncodeToString(mac.Sum(nil))
}

// encodeApproval builds the cookie value: base64url(JSON client-ID
// list) + "." + hex HMAC tag.
func encodeApproval(secret []byte, clientIDs []string) string {
	data, err := json.Marshal(clientIDs)
	if err != nil {
		// A []string cannot fail to marshal.
		panic("encoding approval list: " + err.Error())
	}

	payload := base64.RawURLEncoding.EncodeToString(data)

	return payload + "." + signApproval(secret, payload)
}

// decodeApproval verifies the cookie signature and returns the approved
// client IDs. A missing, malformed, or forged cookie yields nil.
func decodeApproval(secret []byte, value string) []string {
	payload, tag, ok := strings.Cut(value, ".")
	if !ok {
		return nil
	}

	expected := signApproval(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(tag)) {
		return nil
	}

	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}

	var clientIDs []string
	if err := json.Unmarshal(data, &clientIDs); err != nil {
		return nil
	}

	return clientIDs
}

// clientApproved reports whether the request carries a valid approval
// marker for the given client ID.
func clientApproved(r *http.Request, secret []byte, clientID string) bool {
	cookie, err := r.Cookie(approvalCookieName)
	if err != nil {
		return false
	}

	for _, id := range decodeApproval(secret, cookie.Value) {
		if id == clientID {
			return true
		}
	}

	return false
}

// recordApproval sets the approval cookie on the response, adding
// clientID to whatever valid approvals the request already carried.
func recordApproval(w http.ResponseWriter, r *http.Request, secret []byte, clientID string) {
	var approved []string

	if cookie, err := r.Cookie(approvalCookieName); err == nil {
		approved = decodeApproval(secret, cookie.Value)
	}

	found := false

	for _, id := range approved {
		if id == clientID {
			found = true
			break
		}
	}

	if !found {
		approved = append(approved, clientID)
	}

	if len(approved) > maxApprovedClients {
		approved = approved[len(approved)-maxApprovedClients:]
	}

	sort.Strings(approved)

	http.SetCookie(w, &http.Cookie{
		Name:     approvalCookieName,
		Value:    encodeApproval(secret, approved),
		Path:     "/",
		MaxAge:   int(approvalCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
