package s3

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/VBlackJack/genpwd-pro-sub017/sync"
)

func TestTimeouts_Defaults(t *testing.T) {
	got := Timeouts{}.withDefaults()
	assert.Equal(t, defaultConnectTimeout, got.Connect)
	assert.Equal(t, defaultReadTimeout, got.Read)
	assert.Equal(t, defaultWriteTimeout, got.Write)

	// Explicit values survive.
	set := Timeouts{Connect: time.Second, Read: 2 * time.Second, Write: 3 * time.Second}
	assert.Equal(t, set, set.withDefaults())
}

func TestVaultIDKeyMapping(t *testing.T) {
	p := &Provider{prefix: defaultPrefix}

	assert.Equal(t, "vaults/personal.vault", p.key("personal"))

	id, ok := p.vaultIDFromKey("vaults/personal.vault")
	assert.True(t, ok)
	assert.Equal(t, "personal", id)

	for _, key := range []string{"vaults/.vault", "other/personal.vault", "vaults/personal", "personal.vault"} {
		_, ok := p.vaultIDFromKey(key)
		assert.False(t, ok, "key %q", key)
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.Greater(t, got, 50*time.Second)
	assert.LessOrEqual(t, got, time.Minute)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(&types.NoSuchKey{}), sync.ErrRemoteNotFound)
	assert.ErrorIs(t, mapError(&types.NoSuchBucket{}), sync.ErrRemoteNotFound)
	assert.ErrorIs(t, mapError(errors.New("connection reset")), sync.ErrNetwork)
}
