package kdf

import "fmt"

// ValidationError reports an out-of-bounds or unsupported derivation
// parameter. It is returned before any derivation work begins and is never
// retryable: the caller must fix its input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("kdf: invalid %s: %s", e.Field, e.Reason)
}
