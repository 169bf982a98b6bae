package ai

import "errors"

var (
	// ErrUnavailable covers missing credentials and transport failures.
	ErrUnavailable = errors.New("ai provider unavailable")
	// ErrQuotaExceeded is returned when the provider rejects a call for
	// rate or quota reasons.
	ErrQuotaExceeded = errors.New("ai provider quota exceeded")
	// ErrMalformedInput is returned for input the provider cannot embed,
	// e.g. empty text.
	ErrMalformedInput = errors.New("malformed embedding input")
)
