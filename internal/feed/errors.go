package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds used for logging, metrics labels and user-facing notices.
const (
	KindNetwork    = "network"
	KindHTTP       = "http"
	KindParse      = "parse"
	KindValidation = "validation"
	KindUnknown    = "unknown"
)

// TransportError reports a failure to reach the feed at all: DNS, connect,
// timeout, a truncated body or every proxy failing.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// ParseError reports a body that is not a usable feed document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a feed URL rejected before any fetch.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid feed url %q: %s", e.URL, e.Reason)
}

// IsRetryable reports whether a failed load may succeed on a later attempt.
// Transport failures and 5xx responses are retryable. Client errors, parse
// failures, validation failures and caller cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status *HTTPStatusError
	if errors.As(err, &status) {
		return status.StatusCode >= http.StatusInternalServerError
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	return true
}

// Kind classifies err into one of the Kind constants.
func Kind(err error) string {
	var (
		status        *HTTPStatusError
		parseErr      *ParseError
		validationErr *ValidationError
		transportErr  *TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &status):
		return KindHTTP
	case errors.As(err, &transportErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// UserMessage renders err as a short sentence suitable for a notice.
func UserMessage(err error) string {
	var status *HTTPStatusError
	switch Kind(err) {
	case KindValidation:
		var validationErr *ValidationError
		errors.As(err, &validationErr)
		return "The feed URL is not valid: " + validationErr.Reason + "."
	case KindParse:
		return "The feed could not be read. It may not be a valid RSS or Atom document."
	case KindHTTP:
		errors.As(err, &status)
		if status.StatusCode == http.StatusForbidden || status.StatusCode == http.StatusUnauthorized {
			return "Access to the feed was denied."
		}
		if status.StatusCode >= http.StatusInternalServerError {
			return "The feed server is having trouble. Try again later."
		}
		return fmt.Sprintf("The feed server answered with status %d.", status.StatusCode)
	case KindNetwork:
		return "The feed could not be reached. Check your connection and try again."
	case "":
		return ""
	default:
		return "Something went wrong while loading the feed."
	}
}
