package transport

import (
	"errors"
	"fmt"
)

// Transport failures are hard failures: every kind below is distinguishable
// with errors.Is / errors.As. This is deliberately the opposite convention
// from the store, which reports failure by absence.
var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrUnsafeContent  = errors.New("invalid content detected")
	ErrRateLimited    = errors.New("rate limit exceeded")

	ErrMissingEndpoint  = errors.New("webhook URL is required")
	ErrInsecureEndpoint = errors.New("webhook URL must use HTTPS")
	ErrDevEndpoint      = errors.New("webhook URL cannot be a development endpoint")

	ErrNetwork     = errors.New("webhook unreachable")
	ErrBadResponse = errors.New("webhook response unreadable")
)

// HTTPError is a non-2xx reply from the webhook.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Status)
}
