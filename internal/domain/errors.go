package domain

import "errors"

// Error kinds shared across the assistant. Callers wrap them with
// fmt.Errorf("Op: what: %w", ErrX) and classify with errors.Is.
var (
	// ErrConfiguration marks missing or invalid credentials and settings.
	// Fatal at startup and never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrExternalService marks failures of the ledger engine, NLU or chat transport.
	ErrExternalService = errors.New("external service error")

	// ErrValidation marks malformed model output or user input.
	ErrValidation = errors.New("validation error")

	// ErrData marks ledger rows that cannot be parsed.
	ErrData = errors.New("data error")

	// ErrAccess marks requests from users outside the allow-list.
	ErrAccess = errors.New("access denied")
)
