package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

func item(id, device string, updated time.Time, deleted bool) vault.Item {
	it := vault.Item{
		ID:        id,
		UpdatedAt: updated,
		DeviceID:  device,
		Deleted:   deleted,
	}
	if !deleted {
		it.Blob = &blobcrypt.Blob{
			HeaderVersion: blobcrypt.HeaderVersion,
			Nonce:         []byte("nonce-" + device),
			Ciphertext:    []byte("ct-" + id + "-" + device),
		}
	}
	return it
}

func TestMerge_NewerWriteWins(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := []vault.Item{item("login", "A", t0, false)}
	remote := []vault.Item{item("login", "B", t0.Add(time.Minute), false)}

	merged := Merge(local, remote, PolicyLastWriteWins)
	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].DeviceID)

	// Same outcome with the sides swapped.
	merged = Merge(remote, local, PolicyLastWriteWins)
	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].DeviceID)
}

func TestMerge_TieBreaksOnDeviceID(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := []vault.Item{item("login", "A", t0, false)}
	remote := []vault.Item{item("login", "B", t0, false)}

	merged := Merge(local, remote, PolicyLastWriteWins)
	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].DeviceID)

	merged = Merge(remote, local, PolicyLastWriteWins)
	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].DeviceID)
}

func TestMerge_NewerTombstoneBeatsUpdate(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := []vault.Item{item("login", "A", t0, false)}
	remote := []vault.Item{item("login", "B", t0.Add(time.Minute), true)}

	merged := Merge(local, remote, PolicyLastWriteWins)
	require.Len(t, merged, 1)
	assert.True(t, merged[0].Deleted)

	// An update newer than the tombstone resurrects the item.
	local = []vault.Item{item("login", "A", t0.Add(2*time.Minute), false)}
	merged = Merge(local, remote, PolicyLastWriteWins)
	require.Len(t, merged, 1)
	assert.False(t, merged[0].Deleted)
}

func TestMerge_KeepBothPreservesLoser(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := []vault.Item{item("login", "A", t0, false)}
	remote := []vault.Item{item("login", "B", t0.Add(time.Minute), false)}

	merged := Merge(local, remote, PolicyKeepBoth)
	require.Len(t, merged, 2)
	assert.Equal(t, "login", merged[0].ID)
	assert.Equal(t, "B", merged[0].DeviceID)
	assert.Equal(t, "login_conflict", merged[1].ID)
	assert.Equal(t, "A", merged[1].DeviceID)
}

func TestMerge_KeepBothAvoidsConflictIDCollision(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A copy from an earlier merge already occupies the conflict ID.
	local := []vault.Item{
		item("login", "A", t0, false),
		item("login_conflict", "A", t0, false),
	}
	remote := []vault.Item{item("login", "B", t0.Add(time.Minute), false)}

	merged := Merge(local, remote, PolicyKeepBoth)
	require.Len(t, merged, 3)
	assert.Equal(t, "login", merged[0].ID)
	assert.Equal(t, "B", merged[0].DeviceID)
	assert.Equal(t, "login_conflict", merged[1].ID)
	assert.Equal(t, "login_conflict_2", merged[2].ID)
	assert.Equal(t, "A", merged[2].DeviceID)

	ids := make(map[string]bool)
	for _, it := range merged {
		assert.False(t, ids[it.ID], "duplicate ID %q", it.ID)
		ids[it.ID] = true
	}
}

func TestMerge_KeepBothDropsLosingTombstone(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := []vault.Item{item("login", "A", t0, true)}
	remote := []vault.Item{item("login", "B", t0.Add(time.Minute), false)}

	merged := Merge(local, remote, PolicyKeepBoth)
	require.Len(t, merged, 1)
	assert.Equal(t, "login", merged[0].ID)
	assert.False(t, merged[0].Deleted)
}

func TestMerge_SameWriteSeenTwiceIsNotAConflict(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := []vault.Item{item("login", "A", t0, false)}
	remote := []vault.Item{item("login", "A", t0, false)}

	merged := Merge(local, remote, PolicyKeepBoth)
	require.Len(t, merged, 1)
}

func TestMerge_DisjointSetsUnion(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := []vault.Item{item("alpha", "A", t0, false)}
	remote := []vault.Item{item("beta", "B", t0, false), item("gamma", "B", t0, true)}

	merged := Merge(local, remote, PolicyLastWriteWins)
	require.Len(t, merged, 3)
	assert.Equal(t, "alpha", merged[0].ID)
	assert.Equal(t, "beta", merged[1].ID)
	assert.Equal(t, "gamma", merged[2].ID)
	assert.True(t, merged[2].Deleted)
}
