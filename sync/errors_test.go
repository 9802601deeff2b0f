package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{0, nil},
		{200, nil},
		{204, nil},
		{401, ErrAuthExpired},
		{403, ErrAuthExpired},
		{404, ErrRemoteNotFound},
		{409, ErrConflict},
		{412, ErrConflict},
		{429, ErrRateLimited},
		{500, ErrNetwork},
		{503, ErrNetwork},
	}
	for _, tc := range tests {
		err := MapHTTPStatus(tc.status, 0)
		if tc.want == nil {
			assert.NoError(t, err, "status %d", tc.status)
		} else {
			assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		}
	}
}

func TestMapHTTPStatus_RateLimitCarriesRetryAfter(t *testing.T) {
	err := MapHTTPStatus(429, 7*time.Second)
	var rl *RateLimitedError
	assert.True(t, errors.As(err, &rl))
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrAuthExpired))
	assert.False(t, Retryable(errors.New("boom")))
	assert.True(t, Retryable(ErrConflict))
	assert.True(t, Retryable(ErrNetwork))
	assert.True(t, Retryable(&RateLimitedError{RetryAfter: time.Second}))
	assert.True(t, Retryable(MapHTTPStatus(500, 0)))
}

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, retryBase, backoffFor(ErrNetwork, 0))
	assert.Equal(t, 2*retryBase, backoffFor(ErrNetwork, 1))
	assert.Equal(t, retryCap, backoffFor(ErrNetwork, 20))
	assert.Equal(t, 3*time.Second, backoffFor(&RateLimitedError{RetryAfter: 3 * time.Second}, 0))
}
