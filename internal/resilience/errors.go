// Package resilience provides the error taxonomy and retry support for
// external AI-service calls. The core analysis pipeline never retries; only
// the auxiliary seed endpoints use Do.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// RemoteServiceError reports a failed research or synthesis call: network
// failure, upstream 5xx, or upstream quota exhaustion. The status code is
// kept so callers can show a distinct rate-limit message for 429.
type RemoteServiceError struct {
	Service    string // "research" or "synthesis"
	StatusCode int    // 0 when the failure never reached HTTP
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// NewRemoteServiceError wraps err as a remote-service failure.
func NewRemoteServiceError(service string, statusCode int, err error) *RemoteServiceError {
	return &RemoteServiceError{Service: service, StatusCode: statusCode, Err: err}
}

// IsRemote reports whether err carries a RemoteServiceError.
func IsRemote(err error) bool {
	var rse *RemoteServiceError
	return errors.As(err, &rse)
}

// IsRateLimited reports whether err is an upstream quota/429 failure. The
// serve layer maps these to a distinct "try again later" response.
func IsRateLimited(err error) bool {
	var rse *RemoteServiceError
	if errors.As(err, &rse) {
		return rse.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsTransient returns true if the error is safe to retry: an explicit
// transient remote failure (429/5xx) or a network-level hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var rse *RemoteServiceError
	if errors.As(err, &rse) && isTransientStatus(rse.StatusCode) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

func isTransientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
