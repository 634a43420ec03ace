package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError is an error body returned by the sync API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s - %s", e.Status, e.Code, e.Message)
}

// IsTransient classifies failures likely to succeed on retry: transport
// errors, timeouts, rate limits, and 5xx-class responses. Transient failures
// queue the whole chunk; retrying immediately would likely repeat.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return true
		case apiErr.Status == http.StatusRequestTimeout:
			return true
		case apiErr.Status >= 500:
			return true
		}
		return false
	}
	// an error with no API response is network-shaped
	return !errors.Is(err, context.Canceled)
}

// IsDataLevel classifies failures that a retry cannot fix: validation and
// constraint rejections. These trigger the per-record fallback so one bad
// record cannot block its chunk.
func IsDataLevel(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 &&
		apiErr.Status != http.StatusTooManyRequests &&
		apiErr.Status != http.StatusRequestTimeout
}
