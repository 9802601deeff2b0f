package rotation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VBlackJack/genpwd-pro-sub017/storage"
	storagememory "github.com/VBlackJack/genpwd-pro-sub017/storage/memory"
)

// memOracle is an in-memory Oracle for tests.
type memOracle struct {
	mu      sync.Mutex
	primary []byte
	staged  []byte

	failStore        error
	failStoreStaging error
}

func (o *memOracle) Load(ctx context.Context) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.primary == nil {
		return nil, ErrNoSecret
	}
	return bytes.Clone(o.primary), nil
}

func (o *memOracle) Store(ctx context.Context, secret []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failStore != nil {
		return o.failStore
	}
	o.primary = bytes.Clone(secret)
	return nil
}

func (o *memOracle) LoadStaging(ctx context.Context) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.staged == nil {
		return nil, ErrNoSecret
	}
	return bytes.Clone(o.staged), nil
}

func (o *memOracle) StoreStaging(ctx context.Context, secret []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failStoreStaging != nil {
		return o.failStoreStaging
	}
	o.staged = bytes.Clone(secret)
	return nil
}

func (o *memOracle) DeleteStaging(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.staged = nil
	return nil
}

// fakeStore tracks which passphrase currently opens the store.
type fakeStore struct {
	mu      sync.Mutex
	current []byte
	failure error
	rekeys  int
}

func newFakeStore(pass string) *fakeStore {
	return &fakeStore{current: []byte(pass)}
}

func (f *fakeStore) Rekey(ctx context.Context, newPassphrase []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return f.failure
	}
	f.current = bytes.Clone(newPassphrase)
	f.rekeys++
	return nil
}

func (f *fakeStore) verify(pass []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !bytes.Equal(pass, f.current) {
		return errors.New("wrong passphrase")
	}
	return nil
}

var _ storage.Rekeyer = (*fakeStore)(nil)

func newTestManager(t *testing.T, oracle *memOracle, store *fakeStore, now func() time.Time) *Manager {
	t.Helper()
	return NewManager(storagememory.NewRepository(), store, oracle, WithClock(now))
}

func TestResolve_BootstrapsFirstRun(t *testing.T) {
	ctx := context.Background()
	oracle := &memOracle{}
	store := newFakeStore("")
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	m := newTestManager(t, oracle, store, now)
	pass, err := m.Resolve(ctx, store.verify)
	require.NoError(t, err)
	assert.Len(t, pass, passphraseLength)
	assert.Equal(t, pass, oracle.primary)
}

func TestResolve_ReturnsWorkingPrimary(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("correct horse")
	oracle := &memOracle{primary: []byte("correct horse"), staged: []byte("leftover")}
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	m := newTestManager(t, oracle, store, now)
	pass, err := m.Resolve(ctx, store.verify)
	require.NoError(t, err)
	assert.Equal(t, []byte("correct horse"), pass)

	// The stale stage from a pre-re-key crash is cleaned up.
	assert.Nil(t, oracle.staged)
}

func TestResolve_PromotesStagedAfterCrash(t *testing.T) {
	ctx := context.Background()
	// Crash happened after the re-key but before the promote: the store
	// opens with the staged secret, not the primary.
	store := newFakeStore("new pass")
	oracle := &memOracle{primary: []byte("old pass"), staged: []byte("new pass")}
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	m := newTestManager(t, oracle, store, now)
	pass, err := m.Resolve(ctx, store.verify)
	require.NoError(t, err)
	assert.Equal(t, []byte("new pass"), pass)
	assert.Equal(t, []byte("new pass"), oracle.primary)
	assert.Nil(t, oracle.staged)
}

func TestResolve_FailsWhenNothingOpens(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("actual")
	oracle := &memOracle{primary: []byte("wrong"), staged: []byte("also wrong")}
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	m := newTestManager(t, oracle, store, now)
	_, err := m.Resolve(ctx, store.verify)
	assert.Error(t, err)
}

func TestNeedsRotation_SeedsOnFirstUse(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	m := newTestManager(t, &memOracle{}, newFakeStore(""), now)

	due, err := m.NeedsRotation(ctx)
	require.NoError(t, err)
	assert.False(t, due)

	last, err := m.LastRotated(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock, last)

	// Just under the cadence: not due. At the cadence: due.
	clock = clock.Add(DefaultInterval - time.Hour)
	due, err = m.NeedsRotation(ctx)
	require.NoError(t, err)
	assert.False(t, due)

	clock = clock.Add(time.Hour)
	due, err = m.NeedsRotation(ctx)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestRotate_RekeysAndPromotes(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("old pass")
	oracle := &memOracle{primary: []byte("old pass")}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	m := newTestManager(t, oracle, store, now)
	require.NoError(t, m.Rotate(ctx))

	assert.Equal(t, 1, store.rekeys)
	assert.NotEqual(t, []byte("old pass"), oracle.primary)
	assert.NoError(t, store.verify(oracle.primary))
	assert.Nil(t, oracle.staged)

	last, err := m.LastRotated(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock, last)
}

func TestRotate_ResetsTheCadence(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("old pass")
	oracle := &memOracle{primary: []byte("old pass")}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	m := newTestManager(t, oracle, store, now)

	clock = clock.Add(DefaultInterval)
	require.NoError(t, m.Rotate(ctx))
	require.Equal(t, 1, store.rekeys)

	// A completed rotation satisfies the cadence; nothing re-keys again
	// until another interval elapses.
	due, err := m.NeedsRotation(ctx)
	require.NoError(t, err)
	assert.False(t, due)
	assert.Equal(t, 1, store.rekeys)

	clock = clock.Add(DefaultInterval)
	due, err = m.NeedsRotation(ctx)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestRotate_FailedRekeyKeepsPrimary(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("old pass")
	store.failure = errors.New("disk full")
	oracle := &memOracle{primary: []byte("old pass")}
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	m := newTestManager(t, oracle, store, now)
	err := m.Rotate(ctx)
	require.Error(t, err)

	assert.Equal(t, []byte("old pass"), oracle.primary)
	assert.NoError(t, store.verify(oracle.primary))
	assert.Nil(t, oracle.staged)

	last, err := m.LastRotated(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestRotate_FailedPromoteIsRecoverable(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("old pass")
	oracle := &memOracle{primary: []byte("old pass")}
	oracle.failStore = errors.New("keychain unavailable")
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	m := newTestManager(t, oracle, store, now)
	require.Error(t, m.Rotate(ctx))

	// The staged secret is the only one that opens the store now;
	// Resolve must promote it once the oracle works again.
	require.NotNil(t, oracle.staged)
	assert.NoError(t, store.verify(oracle.staged))

	oracle.failStore = nil
	pass, err := m.Resolve(ctx, store.verify)
	require.NoError(t, err)
	assert.NoError(t, store.verify(pass))
	assert.Equal(t, pass, oracle.primary)
	assert.Nil(t, oracle.staged)
}

func TestRotate_ConcurrentCallsCollapse(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("old pass")
	oracle := &memOracle{primary: []byte("old pass")}
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	m := newTestManager(t, oracle, store, now)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Rotate(ctx))
		}()
	}
	wg.Wait()

	// Singleflight may admit more than one rotation as calls drain, but
	// far fewer than one per caller, and the end state must be coherent.
	assert.LessOrEqual(t, store.rekeys, 8)
	assert.GreaterOrEqual(t, store.rekeys, 1)
	assert.NoError(t, store.verify(oracle.primary))
	assert.Nil(t, oracle.staged)
}
