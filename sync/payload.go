package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/aad"
	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

// payloadVersion identifies the remote blob layout.
const payloadVersion = 1

// payload is the plaintext manifest serialized into a remote vault blob.
// Item contents stay encrypted under the session key; the manifest adds
// only the replication metadata needed to merge.
type payload struct {
	Version  int          `json:"version"`
	VaultID  string       `json:"vault_id"`
	DeviceID string       `json:"device_id"`
	Exported time.Time    `json:"exported"`
	Items    []vault.Item `json:"items"`
}

// EncodePayload serializes items into an encrypted remote blob. The blob
// is sealed under key with the vault identity in the associated data, so
// a blob copied between vault slots at the provider fails to open.
func EncodePayload(vaultID, deviceID string, items []vault.Item, key []byte, now time.Time) ([]byte, error) {
	sorted := make([]vault.Item, len(items))
	for i, it := range items {
		sorted[i] = it.Clone()
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	plain, err := json.Marshal(payload{
		Version:  payloadVersion,
		VaultID:  vaultID,
		DeviceID: deviceID,
		Exported: now.UTC(),
		Items:    sorted,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	blob, err := blobcrypt.Encrypt(plain, key, aad.Remote(vaultID))
	if err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return blob.MarshalBinary()
}

// DecodePayload opens a remote blob downloaded for vaultID and returns
// its items. Blobs sealed for a different vault fail authentication.
func DecodePayload(vaultID string, data, key []byte) ([]vault.Item, error) {
	var blob blobcrypt.Blob
	if err := blob.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decoding payload frame: %w", err)
	}
	if !bytes.Equal(blob.AssociatedData, aad.Remote(vaultID)) {
		return nil, blobcrypt.ErrDecryptionFailed
	}

	plain, err := blobcrypt.Decrypt(&blob, key)
	if err != nil {
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if p.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version %d", p.Version)
	}
	if p.VaultID != vaultID {
		return nil, fmt.Errorf("payload vault mismatch: got %q, want %q", p.VaultID, vaultID)
	}
	return p.Items, nil
}
