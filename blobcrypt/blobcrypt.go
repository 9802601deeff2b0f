// Package blobcrypt implements the authenticated encryption engine for vault
// payloads: AES-256-GCM with a versioned frame whose header is always bound
// into the associated data. The engine is stateless; Encrypt and Decrypt are
// safe to call concurrently for independent vaults.
package blobcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/aad"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
)

const (
	// HeaderVersion identifies the current frame layout and cipher suite.
	// It participates in the associated data, so redefining its meaning
	// invalidates every old ciphertext under new code.
	HeaderVersion = 1

	// KeySize is the required key length (AES-256).
	KeySize = 32

	nonceSize = 12
)

// Blob is an encrypted vault payload. The GCM authentication tag is kept at
// the tail of Ciphertext. AssociatedData records the caller-supplied binding
// (it is authenticated, not secret).
type Blob struct {
	HeaderVersion  int    `json:"ver"`
	Nonce          []byte `json:"nonce"`
	Ciphertext     []byte `json:"ciphertext"`
	AssociatedData []byte `json:"ad,omitempty"`
}

// Clone returns a deep copy of the blob.
func (b *Blob) Clone() *Blob {
	if b == nil {
		return nil
	}
	return &Blob{
		HeaderVersion:  b.HeaderVersion,
		Nonce:          util.CopyBytes(b.Nonce),
		Ciphertext:     util.CopyBytes(b.Ciphertext),
		AssociatedData: util.CopyBytes(b.AssociatedData),
	}
}

// Encrypt seals plaintext under key with a fresh random nonce. The effective
// associated data is the header version frame followed by associatedData, so
// a decrypt under a different header version or binding always fails.
func Encrypt(plaintext, key, associatedData []byte) (*Blob, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, bindHeader(HeaderVersion, associatedData))

	return &Blob{
		HeaderVersion:  HeaderVersion,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
		AssociatedData: util.CopyBytes(associatedData),
	}, nil
}

// Decrypt opens a blob. Wrong key and tampered ciphertext are deliberately
// indistinguishable: both return ErrDecryptionFailed with no further detail.
func Decrypt(blob *Blob, key []byte) ([]byte, error) {
	if blob == nil {
		return nil, ErrDecryptionFailed
	}
	if blob.HeaderVersion != HeaderVersion {
		return nil, fmt.Errorf("%w: %d", ErrHeaderVersion, blob.HeaderVersion)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob.Nonce) != nonceSize {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, bindHeader(blob.HeaderVersion, blob.AssociatedData))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrKeySize, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

func bindHeader(version int, associatedData []byte) []byte {
	return aad.Bind(version, associatedData)
}
