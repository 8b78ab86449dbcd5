package internalerr

import "errors"

// Sentinel errors for common cases
var (
	// ErrMalformedInput marks a batch file whose top-level structure
	// cannot be parsed. The whole file is skipped.
	ErrMalformedInput = errors.New("malformed input")

	// ErrIncompleteRecord marks a single document within a batch file
	// that is missing required fields. Only that document is skipped.
	ErrIncompleteRecord = errors.New("incomplete record")

	// ErrStorage marks a failed store transaction. The file it covers
	// is rolled back and left un-ledgered for retry.
	ErrStorage = errors.New("storage error")

	// ErrConsistency marks an analytics pass that found the data its
	// predecessor pass should have written missing.
	ErrConsistency = errors.New("consistency violation")

	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
)
