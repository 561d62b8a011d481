package marketplace

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by every marketplace client.
var (
	ErrNotConnected  = errors.New("marketplace: platform not connected")
	ErrUnavailable   = errors.New("marketplace: platform unavailable")
	ErrRequestFailed = errors.New("marketplace: request failed")
	ErrNotFound      = errors.New("marketplace: resource not found")
)

// HTTPError carries the upstream status and a truncated body.
type HTTPError struct {
	Platform string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Platform, e.Status, e.Body)
}

// Unwrap maps the status onto the sentinel errors.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return ErrUnavailable
	default:
		return ErrRequestFailed
	}
}

// Retryable reports whether a later attempt could succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
