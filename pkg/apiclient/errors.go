package apiclient

import (
	"fmt"
	"net/http"
)

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// IsAuthError returns true if the request was rejected for credentials.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound returns true for missing endpoints or unconfigured subsystems.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
