// Package rotation manages the lifecycle of the auto-generated store
// passphrase: keeping it in the platform credential store, rotating it on
// a fixed cadence, and recovering from a rotation interrupted mid-flight.
package rotation

import (
	"context"
	"errors"
)

// ErrNoSecret is returned by oracle loads when no secret is stored.
var ErrNoSecret = errors.New("rotation: no secret stored")

// Oracle is the protection boundary holding the store passphrase outside
// the store it protects. The staging slot is the write-ahead used during
// rotation: a new passphrase lands there before the store is re-keyed and
// is promoted to primary only after the re-key succeeds.
type Oracle interface {
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, secret []byte) error

	LoadStaging(ctx context.Context) ([]byte, error)
	StoreStaging(ctx context.Context, secret []byte) error
	DeleteStaging(ctx context.Context) error
}
