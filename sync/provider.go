// Package sync replicates encrypted vault blobs through pluggable cloud
// providers and resolves conflicting concurrent edits deterministically.
package sync

import (
	"context"
	"time"
)

// Account identifies an authenticated principal at a provider.
type Account struct {
	ID          string
	DisplayName string
}

// RemoteVault describes a vault blob stored at a provider.
type RemoteVault struct {
	ID       string
	Name     string
	Modified time.Time
}

// Change reports one vault blob changed or deleted since a cursor.
type Change struct {
	VaultID string
	Deleted bool
}

// Capability flags what a provider backend can do natively.
type Capability int

const (
	// CapChangeCursor means Changes returns true deltas from a cursor.
	CapChangeCursor Capability = 1 << iota
	// CapFullReconcile means the provider cannot track deltas; callers
	// must diff full listings instead of relying on Changes.
	CapFullReconcile
)

// Status is a point-in-time health reading for a provider account.
type Status int

const (
	StatusOK Status = iota
	StatusDegraded
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Provider is the narrow contract each cloud backend implements. All
// methods honor context cancellation; network timeouts are the provider's
// responsibility and are configured at construction.
//
// Upload with a non-empty ifMatch must fail with ErrConflict when the
// remote ETag no longer matches; with an empty ifMatch it must fail with
// ErrConflict when the object already exists (create-only semantics).
type Provider interface {
	Kind() string
	Capabilities() Capability

	Authenticate(ctx context.Context) (Account, error)
	ListVaults(ctx context.Context, account Account) ([]RemoteVault, error)

	Download(ctx context.Context, account Account, vaultID string) (data []byte, etag string, err error)
	Upload(ctx context.Context, account Account, vaultID string, data []byte, ifMatch string) (newEtag string, modified time.Time, err error)

	CreateVault(ctx context.Context, account Account, name string) (RemoteVault, error)
	DeleteVault(ctx context.Context, account Account, vaultID string) error

	// Changes lists vaults changed since cursor. Providers reporting
	// CapFullReconcile return every vault with an empty new cursor.
	Changes(ctx context.Context, account Account, cursor string) (newCursor string, changes []Change, err error)

	// Health emits status readings until ctx is cancelled.
	Health(ctx context.Context, account Account) (<-chan Status, error)
}
