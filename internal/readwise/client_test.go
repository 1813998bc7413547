package readwise

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/alexjbarnes/reader-mcp/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "rwsk_test"

func TestVerifyToken(t *testing.T) {
	var gotAuth string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/auth/", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	require.NoError(t, c.VerifyToken(context.Background(), testToken))
	assert.Equal(t, "Token "+testToken, gotAuth)
}

func TestVerifyToken_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Invalid token."}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	err := c.VerifyToken(context.Background(), testToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAPIToken)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Contains(t, se.Body, "Invalid token")
}

func TestVerifyToken_NonNoContentSuccessIsRejection(t *testing.T) {
	// Anything other than an exact 204 is a rejection, even a 200.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	assert.Error(t, c.VerifyToken(context.Background(), testToken))
}

func TestListDocuments_QueryParams(t *testing.T) {
	var gotQuery map[string][]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/list/", r.URL.Path)
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(ListResponse{Count: 0})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	_, err := c.ListDocuments(context.Background(), testToken, ListParams{
		Location:        "new",
		Category:        "article",
		Tag:             "golang",
		UpdatedAfter:    "2026-01-01T00:00:00Z",
		PageCursor:      "abc",
		WithHTMLContent: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"new"}, gotQuery["location"])
	assert.Equal(t, []string{"article"}, gotQuery["category"])
	assert.Equal(t, []string{"golang"}, gotQuery["tag"])
	assert.Equal(t, []string{"2026-01-01T00:00:00Z"}, gotQuery["updatedAfter"])
	assert.Equal(t, []string{"abc"}, gotQuery["pageCursor"])
	assert.Equal(t, []string{"true"}, gotQuery["withHtmlContent"])

	// Unset params must be absent, not empty.
	assert.NotContains(t, gotQuery, "id")
	assert.NotContains(t, gotQuery, "withHtmlContent0")
}

func TestListDocuments_OmitsUnsetParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_ = json.NewEncoder(w).Encode(ListResponse{})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	_, err := c.ListDocuments(context.Background(), testToken, ListParams{})
	require.NoError(t, err)
}

func TestListDocuments_DecodesPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"count": 2,
			"nextPageCursor": "cur2",
			"results": [{"id": "doc1"}, {"id": "doc2"}]
		}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	page, err := c.ListDocuments(context.Background(), testToken, ListParams{})
	require.NoError(t, err)

	assert.Equal(t, 2, page.Count)
	assert.Equal(t, "cur2", page.NextPageCursor)
	require.Len(t, page.Results, 2)
}

func TestCheckAccess_EmptyLibraryIsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count": 0, "nextPageCursor": null, "results": []}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	assert.NoError(t, c.CheckAccess(context.Background(), testToken))
}

func TestCheckAccess_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	assert.Error(t, c.CheckAccess(context.Background(), testToken))
}

func TestSaveDocument(t *testing.T) {
	var gotBody map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/save/", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "doc1", "url": "https://read.example.com/doc1"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	saved, err := c.SaveDocument(context.Background(), testToken, map[string]interface{}{
		"url": "https://example.com/post",
	})
	require.NoError(t, err)

	assert.Equal(t, "doc1", saved.ID)
	assert.Equal(t, "https://read.example.com/doc1", saved.URL)
	assert.Equal(t, "https://example.com/post", gotBody["url"])
}

func TestSaveDocument_ExistingURLIs200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "doc1", "url": "https://read.example.com/doc1"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	saved, err := c.SaveDocument(context.Background(), testToken, map[string]interface{}{"url": "x"})
	require.NoError(t, err)
	assert.Equal(t, "doc1", saved.ID)
}

func TestUpdateDocument(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/update/doc1/", r.URL.Path)
		require.Equal(t, http.MethodPatch, r.Method)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	saved, err := c.UpdateDocument(context.Background(), testToken, "doc1", map[string]interface{}{
		"title": "New Title",
	})
	require.NoError(t, err)

	// The update response may omit the id; fall back to the input.
	assert.Equal(t, "doc1", saved.ID)
}

func TestDeleteDocument(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/delete/doc1/", r.URL.Path)
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	assert.NoError(t, c.DeleteDocument(context.Background(), testToken, "doc1"))
}

func TestDeleteDocument_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	err := c.DeleteDocument(context.Background(), testToken, "doc1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestListTags(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/tags/", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"count": 2,
			"nextPageCursor": null,
			"results": [{"key": "golang", "name": "golang"}, {"key": "mcp", "name": "MCP"}]
		}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	page, err := c.ListTags(context.Background(), testToken, "")
	require.NoError(t, err)

	require.Len(t, page.Results, 2)
	assert.Equal(t, "golang", page.Results[0].Key)
	assert.Equal(t, "MCP", page.Results[1].Name)
}

func TestStatusError_Message(t *testing.T) {
	se := &StatusError{StatusCode: 429, Status: "429 Too Many Requests", Body: "slow down"}
	assert.Contains(t, se.Error(), "429")
	assert.Contains(t, se.Error(), "slow down")
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", nil)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.NotNil(t, c.httpClient)
}
