package core

import "errors"

// Error kinds. Concrete failures wrap one of these together with their cause,
// so callers branch with errors.Is.
var (
	ErrNotConfigured = errors.New("gemini API key is missing or invalid")
	ErrOracle        = errors.New("oracle request failed")
	ErrStorage       = errors.New("index storage failed")
	ErrInput         = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
)
