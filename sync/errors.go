package sync

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrAuthExpired means the provider session or token is no longer
	// valid and the caller must re-authenticate.
	ErrAuthExpired = errors.New("sync: authentication expired")

	// ErrConflict means the remote object changed under us (ETag
	// precondition failed) or already exists for a create-only upload.
	ErrConflict = errors.New("sync: remote conflict")

	// ErrNetwork covers transient transport failures worth retrying.
	ErrNetwork = errors.New("sync: network failure")

	// ErrRemoteNotFound means the requested vault blob does not exist
	// at the provider.
	ErrRemoteNotFound = errors.New("sync: remote vault not found")

	// ErrSyncFailed is returned when a sync cycle exhausted its
	// conflict retries without converging.
	ErrSyncFailed = errors.New("sync: could not converge after retries")
)

// RateLimitedError reports provider throttling together with the wait
// the provider asked for. It matches errors.Is(err, ErrRateLimited).
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("sync: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// ErrRateLimited is the sentinel matched by RateLimitedError values.
var ErrRateLimited = errors.New("sync: rate limited")

// MapHTTPStatus converts a provider HTTP status into the package error
// taxonomy. A zero or 2xx status maps to nil.
func MapHTTPStatus(status int, retryAfter time.Duration) error {
	switch {
	case status == 0 || (status >= 200 && status < 300):
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthExpired
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return ErrConflict
	case status == http.StatusNotFound:
		return ErrRemoteNotFound
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter}
	default:
		return fmt.Errorf("%w: http status %d", ErrNetwork, status)
	}
}

// Retryable reports whether a sync cycle may retry after err.
// Authentication failures need user action and are never retryable.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuthExpired):
		return false
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrNetwork):
		return true
	default:
		return false
	}
}
