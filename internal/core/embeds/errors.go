package embeds

import "errors"

var (
	// ErrInvalidURL is returned when a URL is empty, unparseable, or not http(s)
	ErrInvalidURL = errors.New("invalid URL")

	// ErrBlockedURL is returned when a URL targets a private, loopback, or reserved address
	ErrBlockedURL = errors.New("URL blocked by SSRF policy")

	// ErrFetchFailed is returned for network-level fetch failures
	ErrFetchFailed = errors.New("fetch failed")

	// ErrTimeout is returned when a fetch exceeds its time budget
	ErrTimeout = errors.New("fetch timed out")

	// ErrBodyTooLarge is returned when a response body exceeds the size limit
	ErrBodyTooLarge = errors.New("response body exceeds size limit")

	// ErrTooManyRedirects is returned when the redirect cap is reached
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrBadStatus is returned for non-2xx responses
	ErrBadStatus = errors.New("unexpected HTTP status")

	// ErrDecodeFailed is returned when a fetched body is not valid JSON
	ErrDecodeFailed = errors.New("failed to decode JSON response")

	// ErrNoProvider is returned when no oEmbed endpoint is known or discoverable
	ErrNoProvider = errors.New("no oEmbed endpoint for URL")

	// ErrInvalidOEmbed is returned when an oEmbed payload lacks type or version
	ErrInvalidOEmbed = errors.New("invalid oEmbed response")

	// ErrNoMetadata is returned when a page carries no usable preview metadata
	ErrNoMetadata = errors.New("no preview metadata found")

	// ErrCircuitOpen is returned when a strategy is skipped by the circuit breaker
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrNilEmbed is returned when a nil embed is handed to a cache
	ErrNilEmbed = errors.New("nil embed")

	// ErrInvalidTTL is returned when the provided TTL is invalid (e.g., negative or zero)
	ErrInvalidTTL = errors.New("invalid TTL: must be positive")
)
