// Package readwise implements a client for the Readwise Reader REST API.
// Every call is authenticated with a per-user API token supplied by the
// caller; the client itself holds no credentials.
package readwise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/alexjbarnes/reader-mcp/internal/errors"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the production Readwise API origin.
const DefaultBaseURL = "https://readwise.io"

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Document pages can
	// carry full HTML content, so the cap is generous but bounded.
	maxAPIResponseBytes = 16 * 1024 * 1024

	// maxErrorBodyBytes limits how much of an error response body is
	// carried into error messages.
	maxErrorBodyBytes = 256
)

// Client talks to the Readwise Reader REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the Authorization
// header from leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for the given base URL. If httpClient
// is nil, a client with a 30-second timeout and same-host redirect
// policy is created. An empty baseURL selects the production API.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// do sends a request with the token in the Authorization header and
// returns the status and the (capped) response body. The body param,
// when non-nil, is JSON-encoded.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, token string) (*http.Response, []byte, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sending request to %s: %w", apperrors.ErrAPIRequest, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	return resp, respBody, nil
}

// statusError builds a StatusError with a truncated body.
func statusError(resp *http.Response, body []byte) *StatusError {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// VerifyToken checks an API token against the auth endpoint. The
// upstream contract is exact: 204 means the token is valid, anything
// else is a rejection.
func (c *Client) VerifyToken(ctx context.Context, token string) error {
	resp, body, err := c.do(ctx, http.MethodGet, "/api/v2/auth/", nil, nil, token)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidAPIToken, statusError(resp, body))
	}

	return nil
}

// CheckAccess performs a minimal list request to confirm the token can
// read account data. Any 2xx counts as success, including an empty
// library.
func (c *Client) CheckAccess(ctx context.Context, token string) error {
	_, err := c.ListDocuments(ctx, token, ListParams{})
	return err
}

// ListDocuments fetches one page of the document list.
func (c *Client) ListDocuments(ctx context.Context, token string, params ListParams) (*ListResponse, error) {
	query := url.Values{}

	if params.ID != "" {
		query.Set("id", params.ID)
	}

	if params.Location != "" {
		query.Set("location", params.Location)
	}

	if params.Category != "" {
		query.Set("category", params.Category)
	}

	if params.Tag != "" {
		query.Set("tag", params.Tag)
	}

	if params.UpdatedAfter != "" {
		query.Set("updatedAfter", params.UpdatedAfter)
	}

	if params.PageCursor != "" {
		query.Set("pageCursor", params.PageCursor)
	}

	if params.WithHTMLContent {
		query.Set("withHtmlContent", strconv.FormatBool(params.WithHTMLContent))
	}

	resp, body, err := c.do(ctx, http.MethodGet, "/api/v3/list/", query, nil, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}

	var page ListResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: decoding list response: %w", apperrors.ErrAPIResponse, err)
	}

	return &page, nil
}

// SaveDocument creates a document. The payload is passed through
// verbatim; callers are responsible for omitting unset fields.
func (c *Client) SaveDocument(ctx context.Context, token string, payload map[string]interface{}) (*SavedDocument, error) {
	resp, body, err := c.do(ctx, http.MethodPost, "/api/v3/save/", nil, payload, token)
	if err != nil {
		return nil, err
	}

	// 200 means the URL already existed, 201 means it was created.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp, body)
	}

	return savedFromBody(body), nil
}

// UpdateDocument applies a partial update to a document.
func (c *Client) UpdateDocument(ctx context.Context, token, id string, payload map[string]interface{}) (*SavedDocument, error) {
	resp, body, err := c.do(ctx, http.MethodPatch, "/api/v3/update/"+url.PathEscape(id)+"/", nil, payload, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}

	saved := savedFromBody(body)
	if saved.ID == "" {
		saved.ID = id
	}

	return saved, nil
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, token, id string) error {
	resp, body, err := c.do(ctx, http.MethodDelete, "/api/v3/delete/"+url.PathEscape(id)+"/", nil, nil, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, statusError(resp, body))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp, body)
	}

	return nil
}

// ListTags fetches one page of the tag list.
func (c *Client) ListTags(ctx context.Context, token, pageCursor string) (*TagsResponse, error) {
	query := url.Values{}
	if pageCursor != "" {
		query.Set("pageCursor", pageCursor)
	}

	resp, body, err := c.do(ctx, http.MethodGet, "/api/v3/tags/", query, nil, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}

	var page TagsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: decoding tags response: %w", apperrors.ErrAPIResponse, err)
	}

	return &page, nil
}

// savedFromBody extracts document identity from a save/update response.
// The response shape varies between the two endpoints, so fields are
// pulled from the raw JSON rather than decoded into a fixed struct.
func savedFromBody(body []byte) *SavedDocument {
	return &SavedDocument{
		ID:  gjson.GetBytes(body, "id").String(),
		URL: gjson.GetBytes(body, "url").String(),
	}
}
