package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the adapter is constructed with
	// incomplete configuration.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrEmptyResponse is returned when the API answers without usable text.
	ErrEmptyResponse = errors.New("gemini returned an empty response")

	// ErrContentBlocked is returned when the API refuses the prompt on
	// safety grounds. Not transient: retrying the same prompt cannot help.
	ErrContentBlocked = errors.New("gemini blocked the prompt")
)
