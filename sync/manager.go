package sync

import (
	"bytes"
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/aad"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/session"
	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

// maxAttempts bounds one Sync cycle. Each remote conflict or transient
// failure consumes one attempt; the cycle restarts from a fresh download.
const maxAttempts = 3

// Manager drives the pull, merge, push cycle for one vault against one
// provider. Cycles are serialized; a second Sync call blocks until the
// first finishes.
type Manager struct {
	store    *vault.Store
	provider Provider
	keys     *session.Manager
	policy   Policy
	log      zerolog.Logger
	now      func() time.Time

	mu      gosync.Mutex
	account *Account
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPolicy selects the conflict policy, PolicyLastWriteWins by default.
func WithPolicy(p Policy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithManagerClock overrides the time source, for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager wires a sync manager for store against provider. The session
// manager supplies the content key; Sync fails while the session is locked.
func NewManager(store *vault.Store, provider Provider, keys *session.Manager, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		provider: provider,
		keys:     keys,
		policy:   PolicyLastWriteWins,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sync runs one full replication cycle: download the remote blob, merge
// it with local state, upload the merged result guarded by the remote
// ETag, and only then commit the merge locally. A remote that moved
// between download and upload restarts the cycle, up to maxAttempts
// times; local state is untouched until the push has landed.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := m.keys.Key(ctx)
	if err != nil {
		return err
	}
	defer util.WipeBytes(key)

	account, err := m.authenticateLocked(ctx)
	if err != nil {
		return err
	}

	prevState, err := m.store.SyncState(ctx)
	if err != nil {
		return err
	}

	vaultID := m.store.VaultID()
	log := m.log.With().Str("vault", vaultID).Str("provider", m.provider.Kind()).Logger()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoffFor(lastErr, attempt-1)); err != nil {
				return err
			}
		}

		err := m.cycle(ctx, account, key, prevState, log)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuthExpired) {
			m.account = nil
			if account, err = m.authenticateLocked(ctx); err != nil {
				return err
			}
			lastErr = ErrAuthExpired
			continue
		}
		if !Retryable(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("sync attempt failed, retrying")
		lastErr = err
	}
	log.Error().Err(lastErr).Msg("sync gave up")
	return ErrSyncFailed
}

// cycle performs one download, merge, push, commit pass.
func (m *Manager) cycle(ctx context.Context, account Account, key []byte, prevState vault.SyncState, log zerolog.Logger) error {
	vaultID := m.store.VaultID()

	var remoteItems []vault.Item
	data, etag, err := m.provider.Download(ctx, account, vaultID)
	switch {
	case errors.Is(err, ErrRemoteNotFound):
		// First push: the vault has never been uploaded.
		etag = ""
	case err != nil:
		return err
	default:
		remoteItems, err = DecodePayload(vaultID, data, key)
		if err != nil {
			return err
		}
	}

	local, err := m.store.Items(ctx)
	if err != nil {
		return err
	}
	pending, err := m.store.PendingOps(ctx)
	if err != nil {
		return err
	}

	merged := Merge(local, remoteItems, m.policy)
	if err := rebindRenamed(vaultID, merged, key); err != nil {
		return err
	}

	blob, err := EncodePayload(vaultID, m.store.DeviceID(), merged, key, m.now())
	if err != nil {
		return err
	}

	newEtag, _, err := m.provider.Upload(ctx, account, vaultID, blob, etag)
	if err != nil {
		return err
	}

	state := vault.SyncState{
		VaultID:      vaultID,
		ProviderKind: m.provider.Kind(),
		AccountID:    account.ID,
		RemoteETag:   newEtag,
		Cursor:       prevState.Cursor,
		LastSynced:   m.now().UTC(),
	}
	if m.provider.Capabilities()&CapChangeCursor != 0 {
		if cursor, _, err := m.provider.Changes(ctx, account, prevState.Cursor); err == nil {
			state.Cursor = cursor
		}
	}

	if err := m.store.CommitMerge(ctx, merged, state); err != nil {
		return err
	}

	// Tombstones older than the previous successful sync have propagated
	// to the remote twice over and can go.
	if !prevState.LastSynced.IsZero() {
		if err := m.store.PurgeTombstones(ctx, prevState.LastSynced); err != nil {
			return err
		}
	}

	log.Info().
		Int("local_items", len(local)).
		Int("remote_items", len(remoteItems)).
		Int("merged_items", len(merged)).
		Int("drained_ops", len(pending)).
		Str("etag", newEtag).
		Msg("sync cycle complete")
	return nil
}

// rebindRenamed re-seals items whose blob binding no longer matches their
// ID, which happens when the resolver preserves a conflict loser under a
// derived name. Without the re-seal the copy would fail its binding check
// on every later read.
func rebindRenamed(vaultID string, items []vault.Item, key []byte) error {
	for i := range items {
		it := &items[i]
		if it.Deleted || it.Blob == nil {
			continue
		}
		want := aad.Item(vaultID, it.ID)
		if bytes.Equal(it.Blob.AssociatedData, want) {
			continue
		}
		plain, err := blobcrypt.Decrypt(it.Blob, key)
		if err != nil {
			return err
		}
		sealed, err := blobcrypt.Encrypt(plain, key, want)
		util.WipeBytes(plain)
		if err != nil {
			return err
		}
		it.Blob = sealed
	}
	return nil
}

// authenticateLocked returns the cached account or authenticates afresh.
// Expects m.mu held.
func (m *Manager) authenticateLocked(ctx context.Context) (Account, error) {
	if m.account != nil {
		return *m.account, nil
	}
	account, err := m.provider.Authenticate(ctx)
	if err != nil {
		return Account{}, err
	}
	m.account = &account
	return account, nil
}
