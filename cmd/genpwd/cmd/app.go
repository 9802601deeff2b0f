package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/VBlackJack/genpwd-pro-sub017/blobcrypt"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/aad"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/config"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/kdf"
	"github.com/VBlackJack/genpwd-pro-sub017/rotation"
	"github.com/VBlackJack/genpwd-pro-sub017/session"
	"github.com/VBlackJack/genpwd-pro-sub017/storage"
	bboltstorage "github.com/VBlackJack/genpwd-pro-sub017/storage/bbolt"
	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

const (
	keyringService = "genpwd-pro"

	metaVault          = "_store"
	recordTypeMeta     = "META"
	recordUnlock       = "unlock"
	recordUnlockDuress = "unlock-duress"

	unlockCheckWord = "genpwd-unlock-keycheck"
)

// unlockRecord pins the master passphrase derivation settings and a
// verifier blob only the derived key can open.
type unlockRecord struct {
	Params kdf.Params      `json:"params"`
	Check  *blobcrypt.Blob `json:"check"`
}

// app wires the storage, rotation, and session layers for one command
// invocation.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	store *bboltstorage.Store
	rot   *rotation.Manager
	keys  *session.Manager
}

// newApp loads the configuration and opens the encrypted store, finishing
// any interrupted passphrase rotation and running a due one.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:  cfg,
		log:  newLogger(cfg.Log.Level),
		keys: session.NewManager(),
	}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	a.keys.Clear()
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	profile, err := kdf.Profile(a.cfg.KDF.Profile)
	if err != nil {
		return err
	}
	params, err := kdf.NewParams(kdf.WithProfile(profile))
	if err != nil {
		return err
	}

	oracle := rotation.NewKeyringOracle(keyringService, a.cfg.Vault.ID)
	path := a.cfg.StorePath()

	verify := func(pass []byte) error {
		s, err := bboltstorage.Open(ctx, path, pass, params)
		if err != nil {
			return err
		}
		return s.Close()
	}

	// The rotation manager needs the open store, and resolving the store
	// passphrase needs the rotation manager. Resolve only touches the
	// oracle and verify, so a manager without the store handle suffices.
	resolver := rotation.NewManager(nil, nil, oracle, rotation.WithLogger(a.log))
	pass, err := resolver.Resolve(ctx, verify)
	if err != nil {
		return err
	}
	defer util.WipeBytes(pass)

	store, err := bboltstorage.Open(ctx, path, pass, params)
	if err != nil {
		return err
	}
	a.store = store
	a.rot = rotation.NewManager(store, store, oracle,
		rotation.WithInterval(a.cfg.Rotation.Interval.Std()),
		rotation.WithLogger(a.log),
	)

	due, err := a.rot.NeedsRotation(ctx)
	if err != nil {
		return err
	}
	if due {
		a.log.Info().Msg("store passphrase rotation due, rotating")
		if err := a.rot.Rotate(ctx); err != nil {
			return fmt.Errorf("rotating store passphrase: %w", err)
		}
	}
	return nil
}

// unlock prompts for the master passphrase and loads the derived key into
// the session. A passphrase matching the duress record instead of the
// primary one unlocks the decoy vault without any visible difference.
func (a *app) unlock(ctx context.Context) error {
	rec, err := a.loadUnlockRecord(recordUnlock)
	if err != nil {
		return fmt.Errorf("vault not initialized, run \"genpwd init\" first: %w", err)
	}

	pass, err := promptPassword("Passphrase: ")
	if err != nil {
		return err
	}
	defer util.WipeBytes(pass)

	key, err := kdf.DeriveKey(ctx, string(pass), rec.Params, kdf.KeyLength)
	if err != nil {
		return err
	}
	if _, cerr := blobcrypt.Decrypt(rec.Check, key); cerr == nil {
		err = a.keys.StoreKey(key, a.cfg.Session.TTL.Std(), false)
		util.WipeBytes(key)
		return err
	}
	util.WipeBytes(key)

	duress, derr := a.loadUnlockRecord(recordUnlockDuress)
	if derr != nil {
		return errors.New("wrong passphrase")
	}
	key, err = kdf.DeriveKey(ctx, string(pass), duress.Params, kdf.KeyLength)
	if err != nil {
		return err
	}
	if _, cerr := blobcrypt.Decrypt(duress.Check, key); cerr != nil {
		util.WipeBytes(key)
		return errors.New("wrong passphrase")
	}
	err = a.keys.StoreKey(key, a.cfg.Session.TTL.Std(), true)
	util.WipeBytes(key)
	return err
}

// vaultStore returns the item store matching the session mode: the real
// vault normally, the decoy under duress.
func (a *app) vaultStore() (*vault.Store, error) {
	id := a.cfg.Vault.ID
	if mode, ok := a.keys.Mode(); ok && mode == session.ModeDuress {
		id = id + "_decoy"
	}
	return vault.New(id, a.cfg.Vault.DeviceID, a.store, a.keys)
}

func (a *app) loadUnlockRecord(recordID string) (*unlockRecord, error) {
	env, err := a.store.Get(metaVault, recordTypeMeta, recordID)
	if err != nil {
		return nil, err
	}
	var rec unlockRecord
	if err := json.Unmarshal(env.Payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (a *app) storeUnlockRecord(recordID string, rec unlockRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.store.Put(metaVault, recordTypeMeta, recordID, &storage.Envelope{Payload: payload})
}

// newUnlockRecord derives a key from passphrase under fresh parameters
// and returns both the record and the key. The caller wipes the key.
func (a *app) newUnlockRecord(ctx context.Context, passphrase []byte) (unlockRecord, []byte, error) {
	profile, err := kdf.Profile(a.cfg.KDF.Profile)
	if err != nil {
		return unlockRecord{}, nil, err
	}
	params, err := kdf.NewParams(kdf.WithProfile(profile))
	if err != nil {
		return unlockRecord{}, nil, err
	}
	key, err := kdf.DeriveKey(ctx, string(passphrase), params, kdf.KeyLength)
	if err != nil {
		return unlockRecord{}, nil, err
	}
	check, err := blobcrypt.Encrypt([]byte(unlockCheckWord), key, aad.KeyCheck(a.cfg.Vault.ID))
	if err != nil {
		util.WipeBytes(key)
		return unlockRecord{}, nil, err
	}
	return unlockRecord{Params: params, Check: check}, key, nil
}
