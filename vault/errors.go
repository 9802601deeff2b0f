package vault

import (
	"errors"
	"fmt"
)

// ErrItemNotFound indicates the item does not exist or is tombstoned.
var ErrItemNotFound = errors.New("item not found")

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a local input validation
// failure. Validation failures are never retryable.
func IsValidationError(err error) bool {
	var ve *validationError
	return errors.As(err, &ve)
}
