// Package storage provides the storage abstraction layer for vault records.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVaultNotFound is returned when the vault bucket does not exist.
	ErrVaultNotFound = errors.New("vault not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Envelope is a stored record. Payload is opaque to the repository; the
// bbolt backend encrypts the whole envelope at rest. Version supports
// optimistic concurrency via PutCAS.
type Envelope struct {
	Payload []byte `json:"payload"`
	Version uint64 `json:"version,omitempty"`
}

// BatchTx provides writes within an atomic transaction. The vaultID is
// scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, envelope *Envelope) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for record storage.
type Repository interface {
	Put(vaultID string, recordType string, recordID string, envelope *Envelope) error
	Get(vaultID string, recordType string, recordID string) (*Envelope, error)
	Delete(vaultID string, recordType string, recordID string) error
	List(vaultID string, recordType string) ([]string, error)
	PutCAS(vaultID string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Batch(vaultID string, fn func(tx BatchTx) error) error
}

// Rekeyer is implemented by repositories whose at-rest encryption can be
// re-keyed in place. Rekey derives the new store key from newPassphrase
// using the store's existing derivation settings, re-encrypts every record
// in one atomic transaction, and leaves nothing changed on failure. The
// caller retains ownership of newPassphrase and should wipe it.
type Rekeyer interface {
	Rekey(ctx context.Context, newPassphrase []byte) error
}
