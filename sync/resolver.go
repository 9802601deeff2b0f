package sync

import (
	"fmt"
	"sort"

	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

// Policy selects how conflicting concurrent edits are reconciled.
type Policy int

const (
	// PolicyLastWriteWins keeps the item with the newer UpdatedAt,
	// breaking exact ties in favor of the greater DeviceID.
	PolicyLastWriteWins Policy = iota

	// PolicyKeepBoth keeps the winner under the original ID and
	// preserves the loser under a derived conflict ID, unless the
	// loser is a tombstone.
	PolicyKeepBoth
)

// conflictSuffix marks the preserved loser copy under PolicyKeepBoth.
const conflictSuffix = "_conflict"

// Merge reconciles two item sets from divergent replicas. Items present
// on only one side are kept as-is, tombstones included; deletions must
// travel as tombstones to win against an older live copy. The result is
// sorted by ID so merging is deterministic regardless of input order.
func Merge(local, remote []vault.Item, policy Policy) []vault.Item {
	byID := make(map[string]vault.Item, len(local)+len(remote))
	for _, it := range local {
		byID[it.ID] = it.Clone()
	}

	var losers []vault.Item
	for _, it := range remote {
		existing, ok := byID[it.ID]
		if !ok {
			byID[it.ID] = it.Clone()
			continue
		}
		winner, loser, conflicted := pickWinner(existing, it.Clone())
		byID[it.ID] = winner
		if conflicted && policy == PolicyKeepBoth && !loser.Deleted {
			losers = append(losers, loser)
		}
	}

	// Conflict copies get IDs that cannot collide with live items or with
	// copies preserved by an earlier merge; a collision would make two
	// items share one record and silently drop one of them.
	for _, loser := range losers {
		id := loser.ID + conflictSuffix
		for n := 2; ; n++ {
			if _, taken := byID[id]; !taken {
				break
			}
			id = fmt.Sprintf("%s%s_%d", loser.ID, conflictSuffix, n)
		}
		loser.ID = id
		byID[id] = loser
	}

	merged := make([]vault.Item, 0, len(byID))
	for _, it := range byID {
		merged = append(merged, it)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

// pickWinner resolves one ID collision. conflicted is false when both
// sides carry the same timestamp and device, meaning the copies are the
// same write seen twice.
func pickWinner(a, b vault.Item) (winner, loser vault.Item, conflicted bool) {
	if a.UpdatedAt.Equal(b.UpdatedAt) && a.DeviceID == b.DeviceID {
		return a, b, false
	}
	if b.UpdatedAt.After(a.UpdatedAt) {
		return b, a, true
	}
	if a.UpdatedAt.After(b.UpdatedAt) {
		return a, b, true
	}
	// Same instant on different devices: the greater device ID wins so
	// every replica picks the same side.
	if b.DeviceID > a.DeviceID {
		return b, a, true
	}
	return a, b, true
}
