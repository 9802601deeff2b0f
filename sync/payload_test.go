package sync

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

func payloadKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, blobcrypt.KeySize)
}

func TestPayload_Roundtrip(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []vault.Item{
		item("beta", "A", t0, false),
		item("alpha", "A", t0, true),
	}

	data, err := EncodePayload("personal", "device-a", items, payloadKey(1), t0)
	require.NoError(t, err)

	got, err := DecodePayload("personal", data, payloadKey(1))
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Items come back sorted by ID regardless of input order.
	assert.Equal(t, "alpha", got[0].ID)
	assert.True(t, got[0].Deleted)
	assert.Equal(t, "beta", got[1].ID)
	assert.Equal(t, items[0].Blob.Ciphertext, got[1].Blob.Ciphertext)
}

func TestPayload_WrongVaultRejected(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := EncodePayload("personal", "device-a", nil, payloadKey(1), t0)
	require.NoError(t, err)

	_, err = DecodePayload("work", data, payloadKey(1))
	assert.ErrorIs(t, err, blobcrypt.ErrDecryptionFailed)
}

func TestPayload_WrongKeyRejected(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := EncodePayload("personal", "device-a", nil, payloadKey(1), t0)
	require.NoError(t, err)

	_, err = DecodePayload("personal", data, payloadKey(2))
	assert.ErrorIs(t, err, blobcrypt.ErrDecryptionFailed)
}

func TestPayload_TamperRejected(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []vault.Item{item("login", "A", t0, false)}
	data, err := EncodePayload("personal", "device-a", items, payloadKey(1), t0)
	require.NoError(t, err)

	data[len(data)-1] ^= 0x01
	_, err = DecodePayload("personal", data, payloadKey(1))
	assert.ErrorIs(t, err, blobcrypt.ErrDecryptionFailed)
}
