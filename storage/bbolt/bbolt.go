// Package bbolt provides a BBolt-backed storage repository with at-rest
// encryption. Every record value is sealed with a per-vault record key
// derived from the store key, which itself comes from the store passphrase.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/aad"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/kdf"
	"github.com/VBlackJack/genpwd-pro-sub017/storage"
)

const (
	metaBucket   = "_meta"
	metaHeader   = "header"
	recordInfo   = "store:record:v1"
	keyCheckWord = "genpwd-store-keycheck"
)

// ErrWrongPassphrase is returned by Open when the passphrase does not match
// the store header's key check value.
var ErrWrongPassphrase = errors.New("wrong store passphrase")

// storeHeader is the only plaintext record in the database. It pins the
// derivation settings that must stay identical across re-keys, plus a
// verifier blob for detecting a wrong passphrase without touching records.
type storeHeader struct {
	Ver       int             `json:"ver"`
	KDFParams kdf.Params      `json:"kdf_params"`
	KeyCheck  *blobcrypt.Blob `json:"key_check"`
}

// Store implements storage.Repository and storage.Rekeyer backed by a BBolt
// database whose record values are encrypted at rest.
type Store struct {
	db *bbolt.DB

	mu     sync.RWMutex
	key    []byte
	header storeHeader
}

var (
	_ storage.Repository = (*Store)(nil)
	_ storage.Rekeyer    = (*Store)(nil)
)

// Open opens (or initializes) an encrypted store at path. A new store
// derives its key from passphrase with the given params; an existing store
// ignores params and uses the settings pinned in its header.
func Open(ctx context.Context, path string, passphrase []byte, params kdf.Params) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadOrInitHeader(ctx, passphrase, params); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadOrInitHeader(ctx context.Context, passphrase []byte, params kdf.Params) error {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(metaBucket)); b != nil {
			raw = bytes.Clone(b.Get([]byte(metaHeader)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if raw == nil {
		return s.initHeader(ctx, passphrase, params)
	}

	var header storeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return fmt.Errorf("parsing store header: %w", err)
	}
	key, err := kdf.DeriveKey(ctx, string(passphrase), header.KDFParams, kdf.KeyLength)
	if err != nil {
		return err
	}
	if _, err := blobcrypt.Decrypt(header.KeyCheck, key); err != nil {
		util.WipeBytes(key)
		return ErrWrongPassphrase
	}
	s.key = key
	s.header = header
	return nil
}

func (s *Store) initHeader(ctx context.Context, passphrase []byte, params kdf.Params) error {
	key, err := kdf.DeriveKey(ctx, string(passphrase), params, kdf.KeyLength)
	if err != nil {
		return err
	}
	check, err := blobcrypt.Encrypt([]byte(keyCheckWord), key, aad.KeyCheck(metaHeader))
	if err != nil {
		util.WipeBytes(key)
		return err
	}
	header := storeHeader{Ver: 1, KDFParams: params, KeyCheck: check}
	raw, err := json.Marshal(header)
	if err != nil {
		util.WipeBytes(key)
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(metaHeader), raw)
	})
	if err != nil {
		util.WipeBytes(key)
		return err
	}
	s.key = key
	s.header = header
	return nil
}

// Close wipes the store key and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	util.WipeBytes(s.key)
	s.key = nil
	s.mu.Unlock()
	return s.db.Close()
}

// Params returns the derivation settings pinned in the store header.
func (s *Store) Params() kdf.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.KDFParams
}

func (s *Store) recordKey(storeKey []byte, vaultID string) ([]byte, error) {
	return util.HKDF(storeKey, []byte(vaultID), []byte(recordInfo))
}

func (s *Store) seal(storeKey []byte, vaultID, recordType, recordID string, env *storage.Envelope) ([]byte, error) {
	rk, err := s.recordKey(storeKey, vaultID)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(rk)

	plain, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	blob, err := blobcrypt.Encrypt(plain, rk, aad.Record(vaultID, recordType, recordID))
	if err != nil {
		return nil, err
	}
	return blob.MarshalBinary()
}

func (s *Store) open(storeKey []byte, vaultID, recordType, recordID string, data []byte) (*storage.Envelope, error) {
	rk, err := s.recordKey(storeKey, vaultID)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(rk)

	var blob blobcrypt.Blob
	if err := blob.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("parsing record %s/%s: %w", recordType, recordID, err)
	}
	plain, err := blobcrypt.Decrypt(&blob, rk)
	if err != nil {
		return nil, fmt.Errorf("opening record %s/%s: %w", recordType, recordID, err)
	}
	var env storage.Envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func recordBucketKey(recordType, recordID string) []byte {
	return []byte(recordType + ":" + recordID)
}

func (s *Store) Put(vaultID, recordType, recordID string, envelope *storage.Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sealed, err := s.seal(s.key, vaultID, recordType, recordID, envelope)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(vaultID))
		if err != nil {
			return err
		}
		return b.Put(recordBucketKey(recordType, recordID), sealed)
	})
}

func (s *Store) Get(vaultID, recordType, recordID string) (*storage.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(vaultID))
		if b == nil {
			return fmt.Errorf("%s: %w", vaultID, storage.ErrVaultNotFound)
		}
		data = bytes.Clone(b.Get(recordBucketKey(recordType, recordID)))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.open(s.key, vaultID, recordType, recordID, data)
}

func (s *Store) Delete(vaultID, recordType, recordID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(vaultID))
		if b == nil {
			return fmt.Errorf("%s: %w", vaultID, storage.ErrVaultNotFound)
		}
		key := recordBucketKey(recordType, recordID)
		if b.Get(key) == nil {
			return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
		}
		return b.Delete(key)
	})
}

func (s *Store) List(vaultID, recordType string) ([]string, error) {
	var ids []string
	prefix := []byte(recordType + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(vaultID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *Store) PutCAS(vaultID, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(vaultID))
		if err != nil {
			return err
		}
		return s.putCASInBucket(b, vaultID, recordType, recordID, expectedVersion, envelope)
	})
}

// putCASInBucket expects s.mu held (read) by the caller.
func (s *Store) putCASInBucket(b *bbolt.Bucket, vaultID, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	key := recordBucketKey(recordType, recordID)
	existingData := b.Get(key)

	if expectedVersion == 0 {
		if existingData != nil {
			return storage.ErrCASFailed
		}
	} else {
		if existingData == nil {
			return storage.ErrCASFailed
		}
		existing, err := s.open(s.key, vaultID, recordType, recordID, existingData)
		if err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}

	sealed, err := s.seal(s.key, vaultID, recordType, recordID, envelope)
	if err != nil {
		return err
	}
	return b.Put(key, sealed)
}

type boltBatchTx struct {
	store   *Store
	bucket  *bbolt.Bucket
	vaultID string
}

func (tx *boltBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	sealed, err := tx.store.seal(tx.store.key, tx.vaultID, recordType, recordID, envelope)
	if err != nil {
		return err
	}
	return tx.bucket.Put(recordBucketKey(recordType, recordID), sealed)
}

func (tx *boltBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return tx.store.putCASInBucket(tx.bucket, tx.vaultID, recordType, recordID, expectedVersion, envelope)
}

func (tx *boltBatchTx) Delete(recordType, recordID string) error {
	key := recordBucketKey(recordType, recordID)
	if tx.bucket.Get(key) == nil {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return tx.bucket.Delete(key)
}

func (s *Store) Batch(vaultID string, fn func(tx storage.BatchTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(vaultID))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{store: s, bucket: b, vaultID: vaultID})
	})
}
