package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/storage"
)

const (
	// DefaultInterval is the rotation cadence.
	DefaultInterval = 90 * 24 * time.Hour

	// passphraseLength is the length of generated store passphrases.
	passphraseLength = 32

	metaVault      = "_store"
	recordTypeMeta = "META"
	recordRotation = "rotation"
)

// Record tracks when the store passphrase was last rotated. It lives
// inside the store itself, so the timestamp is covered by at-rest
// encryption like every other record.
type Record struct {
	LastRotated time.Time `json:"last_rotated"`
}

// Manager rotates the store passphrase on a fixed cadence. Rotation is
// write-ahead: the new passphrase is staged in the oracle before the
// store is re-keyed, so a crash at any point leaves at least one working
// passphrase recoverable through Resolve.
type Manager struct {
	repo     storage.Repository
	rekeyer  storage.Rekeyer
	oracle   Oracle
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	sf singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval overrides the rotation cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wires a rotation manager over the store's repository, its
// re-key handle, and the passphrase oracle.
func NewManager(repo storage.Repository, rekeyer storage.Rekeyer, oracle Oracle, opts ...Option) *Manager {
	m := &Manager{
		repo:     repo,
		rekeyer:  rekeyer,
		oracle:   oracle,
		interval: DefaultInterval,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GeneratePassphrase returns a fresh store passphrase. Exposed so first
// time setup can mint one before any store exists.
func GeneratePassphrase() ([]byte, error) {
	pass, err := util.RandomChars(passphraseLength)
	if err != nil {
		return nil, err
	}
	return []byte(pass), nil
}

// Resolve returns the working store passphrase, finishing an interrupted
// rotation when it finds one. verify reports whether a candidate opens
// the store; it is tried on the primary first, then on the staged secret.
// A staged secret that opens the store is promoted to primary. With no
// secret stored at all, a fresh passphrase is generated and stored.
func (m *Manager) Resolve(ctx context.Context, verify func(pass []byte) error) ([]byte, error) {
	primary, err := m.oracle.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSecret):
		return m.bootstrap(ctx)
	case err != nil:
		return nil, err
	}

	if err := verify(primary); err == nil {
		// A leftover staged secret means a rotation crashed before the
		// re-key; the stage never became valid and can go.
		if derr := m.oracle.DeleteStaging(ctx); derr != nil {
			m.log.Warn().Err(derr).Msg("could not delete stale staged passphrase")
		}
		return primary, nil
	}
	util.WipeBytes(primary)

	staged, err := m.oracle.LoadStaging(ctx)
	if errors.Is(err, ErrNoSecret) {
		return nil, fmt.Errorf("rotation: stored passphrase does not open the store")
	}
	if err != nil {
		return nil, err
	}
	if err := verify(staged); err != nil {
		util.WipeBytes(staged)
		return nil, fmt.Errorf("rotation: neither stored nor staged passphrase opens the store")
	}

	// The re-key finished but the promote did not. Finish it now.
	if err := m.oracle.Store(ctx, staged); err != nil {
		util.WipeBytes(staged)
		return nil, err
	}
	if err := m.oracle.DeleteStaging(ctx); err != nil {
		m.log.Warn().Err(err).Msg("could not delete promoted staged passphrase")
	}
	m.log.Info().Msg("recovered interrupted passphrase rotation")
	return staged, nil
}

func (m *Manager) bootstrap(ctx context.Context) ([]byte, error) {
	pass, err := GeneratePassphrase()
	if err != nil {
		return nil, err
	}
	if err := m.oracle.Store(ctx, pass); err != nil {
		util.WipeBytes(pass)
		return nil, err
	}
	m.log.Info().Msg("generated initial store passphrase")
	return pass, nil
}

// NeedsRotation reports whether the cadence has lapsed. On a store that
// has never rotated it seeds the timestamp and reports false, starting
// the clock from first use.
func (m *Manager) NeedsRotation(ctx context.Context) (bool, error) {
	rec, err := m.loadRecord(ctx)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrVaultNotFound) {
		if err := m.storeRecord(Record{LastRotated: m.now().UTC()}); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.now().Sub(rec.LastRotated) >= m.interval, nil
}

// Rotate generates a new passphrase, stages it, re-keys the store, then
// promotes the stage and stamps the rotation time. Concurrent calls are
// collapsed into one rotation. On failure the primary passphrase is
// untouched and still opens the store.
func (m *Manager) Rotate(ctx context.Context) error {
	_, err, _ := m.sf.Do("rotate", func() (any, error) {
		return nil, m.rotate(ctx)
	})
	return err
}

func (m *Manager) rotate(ctx context.Context) error {
	newPass, err := GeneratePassphrase()
	if err != nil {
		return err
	}
	defer util.WipeBytes(newPass)

	if err := m.oracle.StoreStaging(ctx, newPass); err != nil {
		return fmt.Errorf("staging new passphrase: %w", err)
	}

	if err := m.rekeyer.Rekey(ctx, newPass); err != nil {
		// The store still opens with the primary; drop the stage.
		if derr := m.oracle.DeleteStaging(ctx); derr != nil {
			m.log.Warn().Err(derr).Msg("could not delete staged passphrase after failed re-key")
		}
		return fmt.Errorf("re-keying store: %w", err)
	}

	if err := m.oracle.Store(ctx, newPass); err != nil {
		// Resolve picks the staged copy up on the next start.
		return fmt.Errorf("promoting new passphrase: %w", err)
	}
	if err := m.oracle.DeleteStaging(ctx); err != nil {
		m.log.Warn().Err(err).Msg("could not delete promoted staged passphrase")
	}

	if err := m.storeRecord(Record{LastRotated: m.now().UTC()}); err != nil {
		return err
	}
	m.log.Info().Msg("store passphrase rotated")
	return nil
}

// LastRotated returns the recorded rotation time, zero when never set.
func (m *Manager) LastRotated(ctx context.Context) (time.Time, error) {
	rec, err := m.loadRecord(ctx)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrVaultNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return rec.LastRotated, nil
}

func (m *Manager) loadRecord(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	env, err := m.repo.Get(metaVault, recordTypeMeta, recordRotation)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(env.Payload, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (m *Manager) storeRecord(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.repo.Put(metaVault, recordTypeMeta, recordRotation, &storage.Envelope{Payload: payload})
}
