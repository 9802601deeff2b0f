// Package session manages the lifecycle of a derived vault key in memory:
// TTL-bound storage, duress mode, an optional biometric gate, and serialized
// access. The key is never held directly; it is split into an XOR mask and a
// masked half kept in separate locked buffers. This raises the bar against
// passive memory scraping but is not a defense against an attacker with
// arbitrary process memory access or an attached debugger.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
)

// Mode indicates which kind of key the manager is serving.
type Mode int

const (
	// ModeNormal serves the real vault key.
	ModeNormal Mode = iota
	// ModeDuress serves the alternate key presented under coercion. While
	// active, the real key slot is guaranteed cleared.
	ModeDuress
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDuress:
		return "duress"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// BiometricGate is invoked before each key release when registered. A nil
// error grants access. The gate may block on OS prompts; expiry is
// re-checked after it returns.
type BiometricGate func(ctx context.Context) error

// Manager holds at most one live key. All accessors are serialized through
// a single mutex, eliminating check-to-use races between an expiring
// session and an in-flight decrypt.
type Manager struct {
	mu        sync.Mutex
	masked    *memguard.LockedBuffer
	mask      *memguard.LockedBuffer
	expiresAt time.Time
	mode      Mode
	gate      BiometricGate
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBiometricGate registers a gate invoked on every key access.
func WithBiometricGate(gate BiometricGate) Option {
	return func(m *Manager) {
		m.gate = gate
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a locked Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StoreKey replaces any live key with the given one under the given TTL.
// The previous key and mask buffers are destroyed first, so two live keys
// never coexist — storing a duress key clears the real key and vice versa.
// The caller keeps ownership of key; the manager works on masked copies.
func (m *Manager) StoreKey(key []byte, ttl time.Duration, duress bool) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	pad, err := util.RandomBytes(len(key))
	if err != nil {
		return fmt.Errorf("generating key mask: %w", err)
	}
	masked, err := util.Xor(key, pad)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked()

	// Both halves move into locked pages; neither alone reconstructs the key.
	m.masked = memguard.NewBufferFromBytes(masked)
	m.mask = memguard.NewBufferFromBytes(pad)
	m.expiresAt = m.now().Add(ttl)
	m.mode = ModeNormal
	if duress {
		m.mode = ModeDuress
	}
	return nil
}

// Key returns a fresh copy of the stored key, which the caller must wipe
// after use. It returns ErrLocked when no key is stored or the TTL has
// lapsed. When a biometric gate is registered it runs with the manager
// still locked, and expiry is re-checked after it resolves, since the gate
// may take arbitrarily long.
func (m *Manager) Key(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUnlocked(); err != nil {
		return nil, err
	}

	if m.gate != nil {
		if err := m.gate(ctx); err != nil {
			return nil, fmt.Errorf("biometric gate: %w", err)
		}
		// The gate may have taken longer than the remaining TTL.
		if err := m.checkUnlocked(); err != nil {
			return nil, err
		}
	}

	key, err := util.Xor(m.masked.Bytes(), m.mask.Bytes())
	if err != nil {
		return nil, err
	}
	return key, nil
}

// Mode reports the active mode. The second return is false when locked.
func (m *Manager) Mode() (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnlocked(); err != nil {
		return ModeNormal, false
	}
	return m.mode, true
}

// Extend pushes the expiry forward from now. It fails when not unlocked.
func (m *Manager) Extend(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnlocked(); err != nil {
		return err
	}
	m.expiresAt = m.now().Add(ttl)
	return nil
}

// Clear destroys the key and mask buffers for whichever slot is active.
// Idempotent.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	if m.masked != nil {
		m.masked.Destroy()
		m.masked = nil
	}
	if m.mask != nil {
		m.mask.Destroy()
		m.mask = nil
	}
	m.expiresAt = time.Time{}
	m.mode = ModeNormal
}

// checkUnlocked expects m.mu held. An expired key is destroyed eagerly.
func (m *Manager) checkUnlocked() error {
	if m.masked == nil || m.mask == nil {
		return ErrLocked
	}
	if m.now().After(m.expiresAt) {
		m.clearLocked()
		return ErrLocked
	}
	return nil
}
