package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const stagingSuffix = ".staging"

// KeyringOracle stores the passphrase in the platform credential store
// (Keychain on macOS, Secret Service on Linux, Credential Manager on
// Windows).
type KeyringOracle struct {
	Service string
	Account string
}

var _ Oracle = (*KeyringOracle)(nil)

// NewKeyringOracle returns an oracle addressing service/account in the
// platform credential store.
func NewKeyringOracle(service, account string) *KeyringOracle {
	return &KeyringOracle{Service: service, Account: account}
}

func (o *KeyringOracle) Load(ctx context.Context) ([]byte, error) {
	return o.load(ctx, o.Account)
}

func (o *KeyringOracle) Store(ctx context.Context, secret []byte) error {
	return o.store(ctx, o.Account, secret)
}

func (o *KeyringOracle) LoadStaging(ctx context.Context) ([]byte, error) {
	return o.load(ctx, o.Account+stagingSuffix)
}

func (o *KeyringOracle) StoreStaging(ctx context.Context, secret []byte) error {
	return o.store(ctx, o.Account+stagingSuffix, secret)
}

func (o *KeyringOracle) DeleteStaging(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := keyring.Delete(o.Service, o.Account+stagingSuffix)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting staged secret: %w", err)
	}
	return nil
}

func (o *KeyringOracle) load(ctx context.Context, account string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	secret, err := keyring.Get(o.Service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoSecret
	}
	if err != nil {
		return nil, fmt.Errorf("loading secret: %w", err)
	}
	return []byte(secret), nil
}

func (o *KeyringOracle) store(ctx context.Context, account string, secret []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Set(o.Service, account, string(secret)); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	return nil
}
