package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned when a provider answers without content.
	ErrEmptyResponse = errors.New("empty response from provider")
	// ErrNoProvider is returned when a route resolves to no registered provider.
	ErrNoProvider = errors.New("no provider available")
	// ErrMalformedOutput is returned when a reply cannot be decoded as a JSON object.
	ErrMalformedOutput = errors.New("malformed structured output")
)

// APIError is a non-200 reply from a provider endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider %s: API error %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: API error %d: %s", e.Provider, e.StatusCode, e.Body)
}
