package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for the transport taxonomy.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, transport.ErrTransient) {
//	    // retry with backoff
//	}
var (
	// ErrTransient is returned for failures worth retrying: timeouts,
	// 5xx responses, connection resets.
	ErrTransient = errors.New("transport: transient failure")

	// ErrAuthentication is returned when the cloud rejects the session.
	// It is fatal to the affected transport and must reach the external
	// session collaborator; it is never retried locally.
	ErrAuthentication = errors.New("transport: authentication rejected")

	// ErrRateLimited is returned when the cloud answers 429. Callers delay
	// and retry; it is not treated as a failure.
	ErrRateLimited = errors.New("transport: rate limited")
)

// Classify maps an HTTP status code and/or underlying error onto the
// taxonomy. Pass statusCode 0 when no response was received.
//
// Rules:
//   - context cancellation passes through untouched so shutdown stays prompt
//   - network errors and timeouts are transient
//   - 401/403 are authentication failures
//   - 429 is rate limiting
//   - 5xx is transient
//   - other 4xx propagate unclassified (caller bugs, not retryable)
func Classify(statusCode int, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		// Non-HTTP errors with no status are connection-level problems.
		if statusCode == 0 {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthentication, statusCode)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, statusCode)
	case statusCode >= 400:
		return fmt.Errorf("transport: request rejected with status %d", statusCode)
	}

	return err
}

// IsRetryable reports whether the caller should retry after a delay.
// Rate limiting is retryable by definition: a rate-limited request is
// delayed, never dropped.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
