package blobcrypt

import "errors"

var (
	// ErrDecryptionFailed covers both wrong-key and tampered-ciphertext
	// failures. The two are never distinguished, to avoid oracle attacks.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrHeaderVersion indicates a blob whose header version this code does
	// not recognize. Consumers must reject such blobs, never guess.
	ErrHeaderVersion = errors.New("unsupported blob header version")

	// ErrKeySize indicates a key of the wrong length.
	ErrKeySize = errors.New("invalid key size")

	// ErrFrameTruncated indicates a serialized blob too short to parse.
	ErrFrameTruncated = errors.New("blob frame truncated")
)
