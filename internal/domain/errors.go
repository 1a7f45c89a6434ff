package domain

import "errors"

// Engine error taxonomy. Individual signal lookups that time out or find
// nothing are not errors at all; they degrade to absent signals.
var (
	// ErrInvalidInput marks a malformed identifier or amount. Fatal for the
	// request; rejected before any lookup or write.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable marks a total backend outage. Fatal for the request; no
	// partial assessment is returned.
	ErrUnavailable = errors.New("service unavailable")
)
