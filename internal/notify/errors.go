package notify

import "errors"

var (
	// Wire errors; each wraps ErrMalformedMessage.
	ErrMalformedMessage = errors.New("malformed wire message")
	ErrMissingDelimiter = wireError("missing delimiter")
	ErrEmptyRecipient   = wireError("empty recipient")
	ErrInvalidPayload   = wireError("payload is not valid JSON")

	ErrInvalidRecipient = errors.New("recipient cannot be used as a subscription filter")
	ErrRegistryClosed   = errors.New("registry is closed")
)

type malformedError struct{ reason string }

func (e *malformedError) Error() string { return ErrMalformedMessage.Error() + ": " + e.reason }
func (e *malformedError) Unwrap() error { return ErrMalformedMessage }

func wireError(reason string) error { return &malformedError{reason: reason} }
