package vault

import (
	"time"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
)

// Item is one vault entry. Content lives in Blob, encrypted under the
// session key; the remaining fields are replication metadata. A deleted
// item keeps its record as a tombstone (Blob nil, Deleted set) until sync
// has propagated the deletion.
type Item struct {
	ID        string          `json:"id"`
	Blob      *blobcrypt.Blob `json:"blob,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeviceID  string          `json:"device_id"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	cp := it
	cp.Blob = it.Blob.Clone()
	return cp
}

// OpKind tags a pending operation.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// PendingOp records a local mutation made while offline, to be drained on
// the next successful sync.
type PendingOp struct {
	Seq    uint64    `json:"seq"`
	Kind   OpKind    `json:"kind"`
	ItemID string    `json:"item_id"`
	Queued time.Time `json:"queued"`
}

// SyncState tracks replication progress for one (vault, provider, account)
// triple. Updated after every successful push or pull.
type SyncState struct {
	VaultID      string    `json:"vault_id"`
	ProviderKind string    `json:"provider_kind"`
	AccountID    string    `json:"account_id"`
	RemoteETag   string    `json:"remote_etag"`
	Cursor       string    `json:"cursor"`
	LastSynced   time.Time `json:"last_synced"`
}
