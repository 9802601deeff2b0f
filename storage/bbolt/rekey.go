package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/aad"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/kdf"
)

// Rekey re-encrypts every stored record under a key derived from
// newPassphrase. The derivation settings pinned in the store header are
// reused unchanged, so a store written before the re-key stays compatible
// with one written after. The whole operation runs inside a single bbolt
// update transaction: it either completes for every record or leaves the
// database untouched. Rekey holds the store's write lock for the duration,
// blocking all other access.
func (s *Store) Rekey(ctx context.Context, newPassphrase []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newKey, err := kdf.DeriveKey(ctx, string(newPassphrase), s.header.KDFParams, kdf.KeyLength)
	if err != nil {
		return err
	}

	newCheck, err := blobcrypt.Encrypt([]byte(keyCheckWord), newKey, aad.KeyCheck(metaHeader))
	if err != nil {
		util.WipeBytes(newKey)
		return err
	}
	newHeader := s.header
	newHeader.KeyCheck = newCheck

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if string(name) == metaBucket {
				return nil
			}
			return s.rekeyBucket(ctx, b, string(name), newKey)
		}); err != nil {
			return err
		}

		raw, err := json.Marshal(newHeader)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(metaHeader), raw)
	})
	if err != nil {
		util.WipeBytes(newKey)
		return fmt.Errorf("re-keying store: %w", err)
	}

	util.WipeBytes(s.key)
	s.key = newKey
	s.header = newHeader
	return nil
}

func (s *Store) rekeyBucket(ctx context.Context, b *bbolt.Bucket, vaultID string, newKey []byte) error {
	// Collect before writing: mutating a bucket invalidates its cursor.
	type record struct{ k, v []byte }
	var records []record
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		records = append(records, record{bytes.Clone(k), bytes.Clone(v)})
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		recordType, recordID, ok := bytes.Cut(rec.k, []byte(":"))
		if !ok {
			return fmt.Errorf("malformed record key %q", rec.k)
		}
		env, err := s.open(s.key, vaultID, string(recordType), string(recordID), rec.v)
		if err != nil {
			return err
		}
		sealed, err := s.seal(newKey, vaultID, string(recordType), string(recordID), env)
		if err != nil {
			return err
		}
		if err := b.Put(rec.k, sealed); err != nil {
			return err
		}
	}
	return nil
}
