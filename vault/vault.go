// Package vault holds the local item model: encrypted entries, tombstones
// for deletions, and the pending-operation queue drained by sync. A single
// vault's mutation stream is serialized through one mutex so local edits and
// sync merges never interleave.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/aad"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/session"
	"github.com/VBlackJack/genpwd-pro-sub017/storage"
)

const (
	recordTypeItem = "ITEM"
	recordTypeOp   = "OP"
	recordTypeSync = "SYNC"

	recordIDSyncState = "state"
)

// Store is the handle for one vault's local state.
type Store struct {
	vaultID  string
	deviceID string
	repo     storage.Repository
	keys     *session.Manager

	mu     sync.Mutex
	nextOp uint64 // 0 until initialized from the repo
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a handle for the given vault backed by repo, with item
// content keyed through the session manager.
func New(vaultID, deviceID string, repo storage.Repository, keys *session.Manager, opts ...Option) (*Store, error) {
	if err := validateID(vaultID, "vault ID"); err != nil {
		return nil, err
	}
	if err := validateID(deviceID, "device ID"); err != nil {
		return nil, err
	}
	s := &Store{
		vaultID:  vaultID,
		deviceID: deviceID,
		repo:     repo,
		keys:     keys,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// VaultID returns the vault identifier.
func (s *Store) VaultID() string {
	return s.vaultID
}

// DeviceID returns this replica's device identifier.
func (s *Store) DeviceID() string {
	return s.deviceID
}

// Put encrypts and stores an item, creating or updating it, and queues the
// matching pending operation.
func (s *Store) Put(ctx context.Context, itemID string, plaintext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return err
	}
	if err := validateContentSize(plaintext); err != nil {
		return err
	}

	key, err := s.keys.Key(ctx)
	if err != nil {
		return err
	}
	defer util.WipeBytes(key)

	blob, err := blobcrypt.Encrypt(plaintext, key, aad.Item(s.vaultID, itemID))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, existingVersion, err := s.loadItemLocked(itemID)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return err
	}

	kind := OpAdd
	if existing != nil && !existing.Deleted {
		kind = OpUpdate
	}

	item := Item{
		ID:        itemID,
		Blob:      blob,
		UpdatedAt: s.now().UTC(),
		DeviceID:  s.deviceID,
	}
	return s.writeItemLocked(item, existingVersion, kind)
}

// Get decrypts and returns an item's content.
func (s *Store) Get(ctx context.Context, itemID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return nil, err
	}

	key, err := s.keys.Key(ctx)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	s.mu.Lock()
	item, _, err := s.loadItemLocked(itemID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, fmt.Errorf("%s: %w", itemID, ErrItemNotFound)
	}
	// A blob moved between item slots still carries its original binding
	// and must not open under the requested ID.
	if item.Blob == nil || !bytes.Equal(item.Blob.AssociatedData, aad.Item(s.vaultID, itemID)) {
		return nil, blobcrypt.ErrDecryptionFailed
	}
	return blobcrypt.Decrypt(item.Blob, key)
}

// Delete tombstones an item. The record stays in place until sync confirms
// the deletion has propagated.
func (s *Store) Delete(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, existingVersion, err := s.loadItemLocked(itemID)
	if err != nil {
		return err
	}
	if existing.Deleted {
		return fmt.Errorf("%s: %w", itemID, ErrItemNotFound)
	}

	tombstone := Item{
		ID:        itemID,
		UpdatedAt: s.now().UTC(),
		DeviceID:  s.deviceID,
		Deleted:   true,
	}
	return s.writeItemLocked(tombstone, existingVersion, OpDelete)
}

// List returns the IDs of all live (non-tombstoned) items, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, it := range items {
		if !it.Deleted {
			ids = append(ids, it.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Items returns every item including tombstones, for sync merging.
func (s *Store) Items(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemsLocked()
}

func (s *Store) itemsLocked() ([]Item, error) {
	ids, err := s.repo.List(s.vaultID, recordTypeItem)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		item, _, err := s.loadItemLocked(id)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// PendingOps returns the queued local mutations in order.
func (s *Store) PendingOps(ctx context.Context) ([]PendingOp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.repo.List(s.vaultID, recordTypeOp)
	if err != nil {
		return nil, err
	}
	ops := make([]PendingOp, 0, len(ids))
	for _, id := range ids {
		env, err := s.repo.Get(s.vaultID, recordTypeOp, id)
		if err != nil {
			return nil, err
		}
		var op PendingOp
		if err := json.Unmarshal(env.Payload, &op); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })
	return ops, nil
}

// CommitMerge atomically replaces the item set with the merged result of a
// sync cycle, drains the pending-operation queue, and records the new sync
// state. Nothing is applied if any step fails, which keeps a cancelled or
// failed cycle free of partial effects.
func (s *Store) CommitMerge(ctx context.Context, merged []Item, state SyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.List(s.vaultID, recordTypeItem)
	if err != nil {
		return err
	}
	opIDs, err := s.repo.List(s.vaultID, recordTypeOp)
	if err != nil {
		return err
	}
	stateEnv, err := marshalEnvelope(state, 0)
	if err != nil {
		return err
	}

	mergedIDs := make(map[string]bool, len(merged))
	for _, it := range merged {
		mergedIDs[it.ID] = true
	}

	return s.repo.Batch(s.vaultID, func(tx storage.BatchTx) error {
		for _, id := range existing {
			if !mergedIDs[id] {
				if err := tx.Delete(recordTypeItem, id); err != nil {
					return err
				}
			}
		}
		for _, it := range merged {
			env, err := marshalEnvelope(it, 0)
			if err != nil {
				return err
			}
			if err := tx.Put(recordTypeItem, it.ID, env); err != nil {
				return err
			}
		}
		for _, id := range opIDs {
			if err := tx.Delete(recordTypeOp, id); err != nil {
				return err
			}
		}
		return tx.Put(recordTypeSync, recordIDSyncState, stateEnv)
	})
}

// PurgeTombstones removes tombstoned items last updated before cutoff.
// Sync calls this once a deletion is known to have propagated.
func (s *Store) PurgeTombstones(ctx context.Context, cutoff time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.itemsLocked()
	if err != nil {
		return err
	}
	return s.repo.Batch(s.vaultID, func(tx storage.BatchTx) error {
		for _, it := range items {
			if it.Deleted && it.UpdatedAt.Before(cutoff) {
				if err := tx.Delete(recordTypeItem, it.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// SyncState returns the persisted replication state, or a zero state when
// the vault has never synced.
func (s *Store) SyncState(ctx context.Context) (SyncState, error) {
	if err := ctx.Err(); err != nil {
		return SyncState{}, err
	}
	env, err := s.repo.Get(s.vaultID, recordTypeSync, recordIDSyncState)
	if err != nil {
		if isNotFound(err) {
			return SyncState{VaultID: s.vaultID}, nil
		}
		return SyncState{}, err
	}
	var state SyncState
	if err := json.Unmarshal(env.Payload, &state); err != nil {
		return SyncState{}, err
	}
	return state, nil
}

// SetSyncState persists the replication state.
func (s *Store) SetSyncState(ctx context.Context, state SyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := marshalEnvelope(state, 0)
	if err != nil {
		return err
	}
	return s.repo.Put(s.vaultID, recordTypeSync, recordIDSyncState, env)
}

// loadItemLocked expects s.mu held.
func (s *Store) loadItemLocked(itemID string) (*Item, uint64, error) {
	env, err := s.repo.Get(s.vaultID, recordTypeItem, itemID)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("%s: %w", itemID, ErrItemNotFound)
		}
		return nil, 0, err
	}
	var item Item
	if err := json.Unmarshal(env.Payload, &item); err != nil {
		return nil, 0, err
	}
	return &item, env.Version, nil
}

// writeItemLocked stores the item with CAS against the version the caller
// read, and queues op, all in one transaction. Expects s.mu held.
func (s *Store) writeItemLocked(item Item, expectedVersion uint64, kind OpKind) error {
	env, err := marshalEnvelope(item, expectedVersion+1)
	if err != nil {
		return err
	}

	seq, err := s.nextOpSeqLocked()
	if err != nil {
		return err
	}
	op := PendingOp{Seq: seq, Kind: kind, ItemID: item.ID, Queued: s.now().UTC()}
	opEnv, err := marshalEnvelope(op, 0)
	if err != nil {
		return err
	}

	return s.repo.Batch(s.vaultID, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(recordTypeItem, item.ID, expectedVersion, env); err != nil {
			return err
		}
		return tx.Put(recordTypeOp, opSeqID(seq), opEnv)
	})
}

func (s *Store) nextOpSeqLocked() (uint64, error) {
	if s.nextOp == 0 {
		ids, err := s.repo.List(s.vaultID, recordTypeOp)
		if err != nil {
			return 0, err
		}
		var max uint64
		for _, id := range ids {
			var seq uint64
			if _, err := fmt.Sscanf(id, "%d", &seq); err == nil && seq > max {
				max = seq
			}
		}
		s.nextOp = max + 1
	}
	seq := s.nextOp
	s.nextOp++
	return seq, nil
}

func opSeqID(seq uint64) string {
	return fmt.Sprintf("%012d", seq)
}

func marshalEnvelope(v any, version uint64) (*storage.Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &storage.Envelope{Payload: payload, Version: version}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrVaultNotFound)
}
