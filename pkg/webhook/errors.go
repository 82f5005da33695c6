package webhook

import "errors"

// Errors returned by the verification helpers. Verify* functions wrap one of
// these with detail using fmt.Errorf so callers can classify with errors.Is.
var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrMissingHeader        = errors.New("webhook signature header missing")
	ErrMalformedSignature   = errors.New("malformed webhook signature")
	ErrSignatureMismatch    = errors.New("webhook signature mismatch")
	ErrTimestampOutOfRange  = errors.New("webhook timestamp outside tolerance")
)
