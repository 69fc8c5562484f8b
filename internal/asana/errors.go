package asana

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) when the remote API reports that a
// requested resource does not exist.
//
//	if errors.Is(err, asana.ErrNotFound) {
//	    // the project id is wrong or not visible to the token
//	}
var ErrNotFound = errors.New("not found")

// NotFoundError identifies which resource was missing.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// APIError is a non-success response other than 404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("asana api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a request failing with err may succeed if
// repeated: rate limiting and server-side failures.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
}
