package mcpserver

import (
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// summaryMaxLen is where document summaries are cut for list output,
// counted in runes so multibyte text is never split.
const summaryMaxLen = 100

// formatSummary truncates a summary to 100 characters plus an ellipsis.
// An absent summary becomes the literal "No summary".
func formatSummary(summary string) string {
	if summary == "" {
		return "No summary"
	}

	if utf8.RuneCountInString(summary) > summaryMaxLen {
		return string([]rune(summary)[:summaryMaxLen]) + "..."
	}

	return summary
}

// formatProgress converts the upstream reading-progress fraction in
// [0,1] to a rounded whole percentage.
func formatProgress(fraction float64) int {
	return int(math.Round(fraction * 100))
}

// formatDocument reshapes a raw upstream document into the compact
// listing entry tools return. The upstream payload is open-ended, so
// fields are extracted rather than decoded into a fixed struct.
func formatDocument(raw json.RawMessage) map[string]interface{} {
	doc := gjson.ParseBytes(raw)

	tags := make([]string, 0)

	doc.Get("tags").ForEach(func(key, _ gjson.Result) bool {
		tags = append(tags, key.String())
		return true
	})

	return map[string]interface{}{
		"id":               doc.Get("id").String(),
		"url":              doc.Get("url").String(),
		"source_url":       doc.Get("source_url").String(),
		"title":            doc.Get("title").String(),
		"author":           doc.Get("author").String(),
		"category":         doc.Get("category").String(),
		"location":         doc.Get("location").String(),
		"tags":             tags,
		"word_count":       doc.Get("word_count").Int(),
		"created_at":       doc.Get("created_at").String(),
		"updated_at":       doc.Get("updated_at").String(),
		"reading_progress": formatProgress(doc.Get("reading_progress").Float()),
		"summary":          formatSummary(doc.Get("summary").String()),
	}
}
