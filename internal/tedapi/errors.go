package tedapi

import "errors"

// Domain errors for the tedapi package.
var (
	// ErrMissingPassword is returned by NewClient when no gateway password
	// is configured.
	ErrMissingPassword = errors.New("tedapi: gateway password is required")

	// ErrNoIdentity is returned when the device identity (DIN) could not be
	// resolved.
	ErrNoIdentity = errors.New("tedapi: device identity unavailable")

	// ErrRateLimited is returned when the gateway answered 429 or the
	// cooldown window is still open.
	ErrRateLimited = errors.New("tedapi: rate limited by gateway")

	// ErrForbidden is returned when the gateway rejected the credentials.
	ErrForbidden = errors.New("tedapi: access denied")

	// ErrUnexpectedStatus is returned for any other non-200 reply.
	ErrUnexpectedStatus = errors.New("tedapi: unexpected response status")

	// ErrMalformedPayload is returned when an envelope or embedded JSON
	// document cannot be decoded.
	ErrMalformedPayload = errors.New("tedapi: malformed payload")

	// ErrUnsupported is returned for queries the connected gateway
	// generation does not implement.
	ErrUnsupported = errors.New("tedapi: not supported by gateway")
)
