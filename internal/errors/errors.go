// Package errors defines sentinel errors shared across packages.
package errors

import "errors"

// Client errors.
var (
	ErrInvalidAPIToken = errors.New("invalid API token")
	ErrNotFound        = errors.New("document not found")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
