package readwise

import (
	"encoding/json"
	"fmt"
)

// ListParams are the query parameters accepted by the document list
// endpoint. Zero values are omitted from the request.
type ListParams struct {
	ID              string
	Location        string
	Category        string
	Tag             string
	UpdatedAfter    string
	PageCursor      string
	WithHTMLContent bool
}

// ListResponse is a single page of the cursor-paginated document list.
// Documents are kept as raw JSON because the upstream payload is
// open-ended; callers extract the fields they need.
type ListResponse struct {
	Count          int               `json:"count"`
	NextPageCursor string            `json:"nextPageCursor"`
	Results        []json.RawMessage `json:"results"`
}

// Tag is a reader tag as returned by the tags endpoint.
type Tag struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// TagsResponse is a single page of the cursor-paginated tag list.
type TagsResponse struct {
	Count          int    `json:"count"`
	NextPageCursor string `json:"nextPageCursor"`
	Results        []Tag  `json:"results"`
}

// SavedDocument identifies a document created or updated upstream.
type SavedDocument struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StatusError reports a non-success upstream response. The Status field
// carries the full status line ("404 Not Found") so callers can surface
// both the code and the reason phrase.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Readwise API returned %s", e.Status)
	}

	return fmt.Sprintf("Readwise API returned %s: %s", e.Status, e.Body)
}
