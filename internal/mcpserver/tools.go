// Package mcpserver registers MCP tools that expose Readwise Reader
// operations. Each tool reads the upstream credential bound to the
// current session's grant from the request context; no tool holds
// state of its own.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexjbarnes/reader-mcp/internal/auth"
	"github.com/alexjbarnes/reader-mcp/internal/readwise"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultListLimit = 20
	defaultTagLimit  = 50
	maxLimit         = 100

	// maxPages bounds the pagination loop so a misbehaving upstream
	// that keeps returning cursors cannot spin forever.
	maxPages = 100
)

// listLocations are the locations accepted by listDocuments.
var listLocations = map[string]bool{
	"new": true, "later": true, "shortlist": true, "archive": true, "feed": true,
}

// saveLocations are the locations accepted on create/update. The
// upstream save endpoint does not accept "shortlist".
var saveLocations = map[string]bool{
	"new": true, "later": true, "archive": true, "feed": true,
}

var categories = map[string]bool{
	"article": true, "email": true, "rss": true, "highlight": true,
	"note": true, "pdf": true, "epub": true, "tweet": true, "video": true,
}

// RegisterTools adds all Reader tools to the given MCP server.
func RegisterTools(server *mcp.Server, c *readwise.Client) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "listDocuments",
		Description: "List documents in the Reader library, optionally filtered by location, category, tag, or update time. Paginates upstream until the requested limit is reached.",
	}, listDocumentsHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "getDocument",
		Description: "Fetch one document by ID, including its HTML content.",
	}, getDocumentHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "createDocument",
		Description: "Save a URL (optionally with HTML content and metadata) to the Reader library.",
	}, createDocumentHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "updateDocument",
		Description: "Update metadata fields of an existing document.",
	}, updateDocumentHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deleteDocument",
		Description: "Delete a document from the Reader library.",
	}, deleteDocumentHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tagList",
		Description: "List tags used in the Reader library.",
	}, tagListHandler(c))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListDocumentsInput holds parameters for listDocuments.
type ListDocumentsInput struct {
	Location     string `json:"location,omitempty" jsonschema:"filter by location: new, later, shortlist, archive, or feed"`
	Category     string `json:"category,omitempty" jsonschema:"filter by category: article, email, rss, highlight, note, pdf, epub, tweet, or video"`
	Tag          string `json:"tag,omitempty" jsonschema:"filter by tag key"`
	UpdatedAfter string `json:"updatedAfter,omitempty" jsonschema:"only documents updated after this ISO-8601 timestamp"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum number of documents to return (1-100), defaults to 20"`
}

// GetDocumentInput holds parameters for getDocument.
type GetDocumentInput struct {
	DocumentID string `json:"documentId" jsonschema:"required,ID of the document to fetch"`
}

// CreateDocumentInput holds parameters for createDocument.
type CreateDocumentInput struct {
	URL             string   `json:"url" jsonschema:"required,URL of the document to save"`
	HTML            string   `json:"html,omitempty" jsonschema:"document HTML content, fetched from the URL when omitted"`
	ShouldCleanHTML *bool    `json:"should_clean_html,omitempty" jsonschema:"clean the supplied HTML before saving"`
	Title           string   `json:"title,omitempty"`
	Author          string   `json:"author,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	PublishedDate   string   `json:"published_date,omitempty" jsonschema:"ISO-8601 publication timestamp"`
	ImageURL        string   `json:"image_url,omitempty"`
	Location        string   `json:"location,omitempty" jsonschema:"one of new, later, archive, feed"`
	Category        string   `json:"category,omitempty" jsonschema:"one of article, email, rss, highlight, note, pdf, epub, tweet, video"`
	SavedUsing      string   `json:"saved_using,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// UpdateDocumentInput holds parameters for updateDocument.
type UpdateDocumentInput struct {
	DocumentID    string `json:"documentId" jsonschema:"required,ID of the document to update"`
	Title         string `json:"title,omitempty"`
	Author        string `json:"author,omitempty"`
	Summary       string `json:"summary,omitempty"`
	PublishedDate string `json:"published_date,omitempty" jsonschema:"ISO-8601 publication timestamp"`
	ImageURL      string `json:"image_url,omitempty"`
	Location      string `json:"location,omitempty" jsonschema:"one of new, later, archive, feed"`
	Category      string `json:"category,omitempty" jsonschema:"one of article, email, rss, highlight, note, pdf, epub, tweet, video"`
}

// DeleteDocumentInput holds parameters for deleteDocument.
type DeleteDocumentInput struct {
	DocumentID string `json:"documentId" jsonschema:"required,ID of the document to delete"`
}

// TagListInput holds parameters for tagList.
type TagListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of tags to return (1-100), defaults to 50"`
}

// --- Output types ---

// ListDocumentsResult is the structured output of listDocuments.
type ListDocumentsResult struct {
	Documents []map[string]interface{} `json:"documents"`
	Count     int                      `json:"count"`
	Filters   map[string]string        `json:"filters"`
}

// DocumentRef identifies a created or updated document.
type DocumentRef struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// WriteResult is the structured output of createDocument and updateDocument.
type WriteResult struct {
	Success  bool        `json:"success"`
	Document DocumentRef `json:"document"`
}

// DeleteResult is the structured output of deleteDocument.
type DeleteResult struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId"`
}

// TagListResult is the structured output of tagList.
type TagListResult struct {
	Tags  []readwise.Tag `json:"tags"`
	Count int            `json:"count"`
}

// --- Handlers ---

func listDocumentsHandler(c *readwise.Client) mcp.ToolHandlerFor[ListDocumentsInput, *ListDocumentsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListDocumentsInput) (*mcp.CallToolResult, *ListDocumentsResult, error) {
		token, errRes := sessionToken(ctx)
		if errRes != nil {
			return errRes, nil, nil
		}

		if input.Location != "" && !listLocations[input.Location] {
			return errorResult("invalid location %q: must be one of new, later, shortlist, archive, feed", input.Location), nil, nil
		}

		if input.Category != "" && !categories[input.Category] {
			return errorResult("invalid category %q", input.Category), nil, nil
		}

		if input.UpdatedAfter != "" {
			if _, err := time.Parse(time.RFC3339, input.UpdatedAfter); err != nil {
				return errorResult("invalid updatedAfter %q: must be an ISO-8601 timestamp", input.UpdatedAfter), nil, nil
			}
		}

		limit, errRes := resolveLimit(input.Limit, defaultListLimit)
		if errRes != nil {
			return errRes, nil, nil
		}

		// Walk upstream pages in order, truncating the final page's
		// contribution so the result never exceeds the limit.
		documents := make([]map[string]interface{}, 0, limit)
		cursor := ""

		for page := 0; page < maxPages && len(documents) < limit; page++ {
			resp, err := c.ListDocuments(ctx, token, readwise.ListParams{
				Location:     input.Location,
				Category:     input.Category,
				Tag:          input.Tag,
				UpdatedAfter: input.UpdatedAfter,
				PageCursor:   cursor,
			})
			if err != nil {
				return errorResult("listing documents failed: %v", err), nil, nil
			}

			for _, raw := range resp.Results {
				documents = append(documents, formatDocument(raw))
				if len(documents) == limit {
					break
				}
			}

			if resp.NextPageCursor == "" {
				break
			}

			cursor = resp.NextPageCursor
		}

		filters := map[string]string{}

		if input.Location != "" {
			filters["location"] = input.Location
		}

		if input.Category != "" {
			filters["category"] = input.Category
		}

		if input.Tag != "" {
			filters["tag"] = input.Tag
		}

		if input.UpdatedAfter != "" {
			filters["updatedAfter"] = input.UpdatedAfter
		}

		result := &ListDocumentsResult{
			Documents: documents,
			Count:     len(documents),
			Filters:   filters,
		}

		return textResult(result), result, nil
	}
}

func getDocumentHandler(c *readwise.Client) mcp.ToolHandlerFor[GetDocumentInput, map[string]interface{}] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetDocumentInput) (*mcp.CallToolResult, map[string]interface{}, error) {
		token, errRes := sessionToken(ctx)
		if errRes != nil {
			return errRes, nil, nil
		}

		if input.DocumentID == "" {
			return errorResult("documentId is required"), nil, nil
		}

		resp, err := c.ListDocuments(ctx, token, readwise.ListParams{
			ID:              input.DocumentID,
			WithHTMLContent: true,
		})
		if err != nil {
			return errorResult("fetching document failed: %v", err), nil, nil
		}

		if len(resp.Results) == 0 {
			return errorResult("document with ID %q not found", input.DocumentID), nil, nil
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(resp.Results[0], &doc); err != nil {
			return errorResult("decoding document failed: %v", err), nil, nil
		}

		return textResult(doc), doc, nil
	}
}

func createDocumentHandler(c *readwise.Client) mcp.ToolHandlerFor[CreateDocumentInput, *WriteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateDocumentInput) (*mcp.CallToolResult, *WriteResult, error) {
		token, errRes := sessionToken(ctx)
		if errRes != nil {
			return errRes, nil, nil
		}

		if input.URL == "" {
			return errorResult("url is required"), nil, nil
		}

		if input.Location != "" && !saveLocations[input.Location] {
			return errorResult("invalid location %q: must be one of new, later, archive, feed", input.Location), nil, nil
		}

		if input.Category != "" && !categories[input.Category] {
			return errorResult("invalid category %q", input.Category), nil, nil
		}

		// Optional fields are omitted from the payload entirely when
		// unset; the upstream API distinguishes absent keys from empty
		// values.
		payload := map[string]interface{}{"url": input.URL}

		setIfNotEmpty(payload, "html", input.HTML)
		setIfNotEmpty(payload, "title", input.Title)
		setIfNotEmpty(payload, "author", input.Author)
		setIfNotEmpty(payload, "summary", input.Summary)
		setIfNotEmpty(payload, "published_date", input.PublishedDate)
		setIfNotEmpty(payload, "image_url", input.ImageURL)
		setIfNotEmpty(payload, "location", input.Location)
		setIfNotEmpty(payload, "category", input.Category)
		setIfNotEmpty(payload, "saved_using", input.SavedUsing)
		setIfNotEmpty(payload, "notes", input.Notes)

		if input.ShouldCleanHTML != nil {
			payload["should_clean_html"] = *input.ShouldCleanHTML
		}

		if len(input.Tags) > 0 {
			payload["tags"] = input.Tags
		}

		saved, err := c.SaveDocument(ctx, token, payload)
		if err != nil {
			return errorResult("creating document failed: %v", err), nil, nil
		}

		result := &WriteResult{
			Success:  true,
			Document: DocumentRef{ID: saved.ID, URL: saved.URL},
		}

		return textResult(result), result, nil
	}
}

func updateDocumentHandler(c *readwise.Client) mcp.ToolHandlerFor[UpdateDocumentInput, *WriteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UpdateDocumentInput) (*mcp.CallToolResult, *WriteResult, error) {
		token, errRes := sessionToken(ctx)
		if errRes != nil {
			return errRes, nil, nil
		}

		if input.DocumentID == "" {
			return errorResult("documentId is required"), nil, nil
		}

		if input.Location != "" && !saveLocations[input.Location] {
			return errorResult("invalid location %q: must be one of new, later, archive, feed", input.Location), nil, nil
		}

		if input.Category != "" && !categories[input.Category] {
			return errorResult("invalid category %q", input.Category), nil, nil
		}

		payload := map[string]interface{}{}

		setIfNotEmpty(payload, "title", input.Title)
		setIfNotEmpty(payload, "author", input.Author)
		setIfNotEmpty(payload, "summary", input.Summary)
		setIfNotEmpty(payload, "published_date", input.PublishedDate)
		setIfNotEmpty(payload, "image_url", input.ImageURL)
		setIfNotEmpty(payload, "location", input.Location)
		setIfNotEmpty(payload, "category", input.Category)

		if len(payload) == 0 {
			return errorResult("no fields to update"), nil, nil
		}

		saved, err := c.UpdateDocument(ctx, token, input.DocumentID, payload)
		if err != nil {
			return errorResult("updating document failed: %v", err), nil, nil
		}

		result := &WriteResult{
			Success:  true,
			Document: DocumentRef{ID: saved.ID, URL: saved.URL},
		}

		return textResult(result), result, nil
	}
}

func deleteDocumentHandler(c *readwise.Client) mcp.ToolHandlerFor[DeleteDocumentInput, *DeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteDocumentInput) (*mcp.CallToolResult, *DeleteResult, error) {
		token, errRes := sessionToken(ctx)
		if errRes != nil {
			return errRes, nil, nil
		}

		if input.DocumentID == "" {
			return errorResult("documentId is required"), nil, nil
		}

		if err := c.DeleteDocument(ctx, token, input.DocumentID); err != nil {
			return errorResult("deleting document failed: %v", err), nil, nil
		}

		result := &DeleteResult{Success: true, DocumentID: input.DocumentID}

		return textResult(result), result, nil
	}
}

func tagListHandler(c *readwise.Client) mcp.ToolHandlerFor[TagListInput, *TagListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input TagListInput) (*mcp.CallToolResult, *TagListResult, error) {
		token, errRes := sessionToken(ctx)
		if errRes != nil {
			return errRes, nil, nil
		}

		limit, errRes := resolveLimit(input.Limit, defaultTagLimit)
		if errRes != nil {
			return errRes, nil, nil
		}

		tags := make([]readwise.Tag, 0, limit)
		cursor := ""

		for page := 0; page < maxPages && len(tags) < limit; page++ {
			resp, err := c.ListTags(ctx, token, cursor)
			if err != nil {
				return errorResult("listing tags failed: %v", err), nil, nil
			}

			for _, tag := range resp.Results {
				tags = append(tags, tag)
				if len(tags) == limit {
					break
				}
			}

			if resp.NextPageCursor == "" {
				break
			}

			cursor = resp.NextPageCursor
		}

		result := &TagListResult{Tags: tags, Count: len(tags)}

		return textResult(result), result, nil
	}
}

// --- Helpers ---

// sessionToken pulls the grant-bound upstream credential from the
// request context. A missing credential means the request bypassed the
// auth middleware, which is a tool-level error, not a panic.
func sessionToken(ctx context.Context) (string, *mcp.CallToolResult) {
	token := auth.RequestAPIToken(ctx)
	if token == "" {
		return "", errorResult("no upstream credential bound to this session")
	}

	return token, nil
}

// resolveLimit applies the default and range-checks the caller's limit.
func resolveLimit(limit, def int) (int, *mcp.CallToolResult) {
	if limit == 0 {
		return def, nil
	}

	if limit < 1 || limit > maxLimit {
		return 0, errorResult("invalid limit %d: must be between 1 and %d", limit, maxLimit)
	}

	return limit, nil
}

func setIfNotEmpty(payload map[string]interface{}, key, value string) {
	if value != "" {
		payload[key] = value
	}
}

// errorResult builds a tool-level error result. Upstream failures are
// reported this way rather than as protocol errors so the calling agent
// can decide whether to retry.
func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("error marshaling result: %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
