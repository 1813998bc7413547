package auth

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectedResourceMetadata(t *testing.T) {
	handler := HandleProtectedResourceMetadata(testServerURL)

	req := httptest.NewRequest("GET", "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var meta ProtectedResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))

	assert.Equal(t, testServerURL, meta.Resource)
	assert.Equal(t, []string{testServerURL}, meta.AuthorizationServers)
	assert.Equal(t, []string{"header"}, meta.BearerMethodsSupported)
}

func TestServerMetadata(t *testing.T) {
	handler := HandleServerMetadata(testServerURL)

	req := httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, 200, rec.Code)

	var meta ServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))

	assert.Equal(t, testServerURL, meta.Issuer)
	assert.Equal(t, testServerURL+"/oauth/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, testServerURL+"/oauth/token", meta.TokenEndpoint)
	assert.Equal(t, testServerURL+"/oauth/register", meta.RegistrationEndpoint)
	assert.Equal(t, []string{"S256"}, meta.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"authorization_code"}, meta.GrantTypesSupported)
	assert.Equal(t, []string{"none"}, meta.TokenEndpointAuthMethodsSupported)
}

func TestMetadata_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest("POST", "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	HandleServerMetadata(testServerURL)(rec, req)

	assert.Equal(t, 405, rec.Code)
}
