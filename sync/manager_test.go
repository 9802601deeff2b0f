package sync_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/session"
	storagememory "github.com/VBlackJack/genpwd-pro-sub017/storage/memory"
	"github.com/VBlackJack/genpwd-pro-sub017/sync"
	syncmemory "github.com/VBlackJack/genpwd-pro-sub017/sync/memory"
	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

type replica struct {
	store *vault.Store
	mgr   *sync.Manager
	keys  *session.Manager
}

// newReplica builds a device-local vault wired to the shared provider.
// All replicas of one vault share the content key.
func newReplica(t *testing.T, provider sync.Provider, deviceID string, now func() time.Time, extra ...sync.ManagerOption) *replica {
	t.Helper()

	keys := session.NewManager()
	key := bytes.Repeat([]byte{0x42}, blobcrypt.KeySize)
	require.NoError(t, keys.StoreKey(key, time.Hour, false))

	store, err := vault.New("personal", deviceID, storagememory.NewRepository(), keys, vault.WithClock(now))
	require.NoError(t, err)

	opts := append([]sync.ManagerOption{sync.WithManagerClock(now)}, extra...)
	mgr := sync.NewManager(store, provider, keys, opts...)
	return &replica{store: store, mgr: mgr, keys: keys}
}

func TestManager_FirstPushAndPull(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	a := newReplica(t, provider, "device-a", now)
	b := newReplica(t, provider, "device-b", now)

	require.NoError(t, a.store.Put(ctx, "login", []byte("hunter2")))
	require.NoError(t, a.mgr.Sync(ctx))

	// The push drained A's pending queue.
	ops, err := a.store.PendingOps(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	require.NoError(t, b.mgr.Sync(ctx))
	got, err := b.store.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), got)
}

func TestManager_DeletionPropagates(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	a := newReplica(t, provider, "device-a", now)
	b := newReplica(t, provider, "device-b", now)

	require.NoError(t, a.store.Put(ctx, "login", []byte("hunter2")))
	require.NoError(t, a.mgr.Sync(ctx))
	require.NoError(t, b.mgr.Sync(ctx))

	clock = clock.Add(time.Minute)
	require.NoError(t, b.store.Delete(ctx, "login"))
	require.NoError(t, b.mgr.Sync(ctx))

	require.NoError(t, a.mgr.Sync(ctx))
	_, err := a.store.Get(ctx, "login")
	assert.ErrorIs(t, err, vault.ErrItemNotFound)
}

func TestManager_ConcurrentEditsConverge(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	a := newReplica(t, provider, "device-a", now)
	b := newReplica(t, provider, "device-b", now)

	require.NoError(t, a.store.Put(ctx, "login", []byte("from-a")))
	require.NoError(t, a.mgr.Sync(ctx))
	require.NoError(t, b.mgr.Sync(ctx))

	// Both devices edit the same item; B's write is newer.
	clock = clock.Add(time.Minute)
	require.NoError(t, a.store.Put(ctx, "login", []byte("a-edit")))
	clock = clock.Add(time.Minute)
	require.NoError(t, b.store.Put(ctx, "login", []byte("b-edit")))

	require.NoError(t, a.mgr.Sync(ctx))
	require.NoError(t, b.mgr.Sync(ctx))
	require.NoError(t, a.mgr.Sync(ctx))

	gotA, err := a.store.Get(ctx, "login")
	require.NoError(t, err)
	gotB, err := b.store.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, []byte("b-edit"), gotA)
	assert.Equal(t, []byte("b-edit"), gotB)
}

func TestManager_KeepBothConflictCopyStaysReadable(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	a := newReplica(t, provider, "device-a", now, sync.WithPolicy(sync.PolicyKeepBoth))
	b := newReplica(t, provider, "device-b", now, sync.WithPolicy(sync.PolicyKeepBoth))

	require.NoError(t, a.store.Put(ctx, "login", []byte("from-a")))
	require.NoError(t, a.mgr.Sync(ctx))

	clock = clock.Add(time.Minute)
	require.NoError(t, b.store.Put(ctx, "login", []byte("from-b")))
	require.NoError(t, b.mgr.Sync(ctx))

	got, err := b.store.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-b"), got)

	// The preserved loser was re-sealed under its conflict ID and
	// decrypts like any other item.
	conflict, err := b.store.Get(ctx, "login_conflict")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-a"), conflict)

	require.NoError(t, a.mgr.Sync(ctx))
	conflict, err = a.store.Get(ctx, "login_conflict")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-a"), conflict)
}

func TestManager_RetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	a := newReplica(t, provider, "device-a", now)
	require.NoError(t, a.store.Put(ctx, "login", []byte("hunter2")))

	provider.FailNext = &sync.RateLimitedError{RetryAfter: 10 * time.Millisecond}
	require.NoError(t, a.mgr.Sync(ctx))
}

func TestManager_AuthFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	provider.AuthErr = sync.ErrAuthExpired
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	a := newReplica(t, provider, "device-a", now)
	err := a.mgr.Sync(ctx)
	assert.ErrorIs(t, err, sync.ErrAuthExpired)
}

func TestManager_LockedSessionFails(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	a := newReplica(t, provider, "device-a", now)
	a.keys.Clear()

	err := a.mgr.Sync(ctx)
	assert.ErrorIs(t, err, session.ErrLocked)
}

func TestManager_LocalStateUntouchedWhenPushFails(t *testing.T) {
	ctx := context.Background()
	provider := syncmemory.New()
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	a := newReplica(t, provider, "device-a", now)
	require.NoError(t, a.store.Put(ctx, "login", []byte("hunter2")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, a.mgr.Sync(cancelled))

	// The pending queue survives the failed cycle.
	ops, err := a.store.PendingOps(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	state, err := a.store.SyncState(ctx)
	require.NoError(t, err)
	assert.True(t, state.LastSynced.IsZero())
}

// interferingProvider rewrites the remote blob between the manager's
// download and upload, forcing an ETag conflict on the first attempt.
type interferingProvider struct {
	*syncmemory.Provider
	interfere func()
	once      bool
}

func (p *interferingProvider) Download(ctx context.Context, account sync.Account, vaultID string) ([]byte, string, error) {
	data, etag, err := p.Provider.Download(ctx, account, vaultID)
	if err == nil && !p.once {
		p.once = true
		p.interfere()
	}
	return data, etag, err
}

func TestManager_ConflictRetriesWithFreshDownload(t *testing.T) {
	ctx := context.Background()
	inner := syncmemory.New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	a := newReplica(t, inner, "device-a", now)
	b := newReplica(t, inner, "device-b", now)
	require.NoError(t, a.store.Put(ctx, "from-a", []byte("a")))
	require.NoError(t, a.mgr.Sync(ctx))
	require.NoError(t, b.mgr.Sync(ctx))

	// B writes and pushes while A is mid-cycle.
	provider := &interferingProvider{
		Provider: inner,
		interfere: func() {
			require.NoError(t, b.store.Put(ctx, "from-b", []byte("b")))
			require.NoError(t, b.mgr.Sync(ctx))
		},
	}

	c := newReplica(t, provider, "device-a", now)
	require.NoError(t, c.store.Put(ctx, "from-c", []byte("c")))
	require.NoError(t, c.mgr.Sync(ctx))

	// The retried cycle picked up B's concurrent write.
	ids, err := c.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"from-a", "from-b", "from-c"}, ids)
}
