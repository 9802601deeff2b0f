// Package kdf derives symmetric keys from passphrases using Argon2id with
// bounded cost parameters. Derivation is deterministic: identical passphrase
// and parameters always produce identical key bytes.
package kdf

import (
	"context"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
)

const (
	// AlgorithmArgon2id is the only supported derivation algorithm.
	AlgorithmArgon2id = "argon2id"

	// KeyLength is the only supported derived key length (AES-256).
	KeyLength = 32
)

// Hard bounds on cost parameters. The lower bounds reject derivations too
// weak to protect a vault; the upper bounds reject attacker-supplied
// parameters that would turn derivation into a denial of service.
const (
	MinSaltLength = 8
	MaxSaltLength = 64

	MinTime = 1
	MaxTime = 16

	MinMemoryKiB = 8 * 1024
	MaxMemoryKiB = 1024 * 1024

	MinParallelism = 1
	MaxParallelism = 8
)

// Params configures Argon2id derivation. Treat values as immutable once
// created; NewParams is the only validated constructor.
type Params struct {
	Algorithm   string `json:"algorithm"`
	Salt        []byte `json:"salt"`
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// Equal reports whether two parameter sets derive identical keys for the
// same passphrase.
func (p Params) Equal(other Params) bool {
	if p.Algorithm != other.Algorithm || p.Time != other.Time ||
		p.MemoryKiB != other.MemoryKiB || p.Parallelism != other.Parallelism {
		return false
	}
	if len(p.Salt) != len(other.Salt) {
		return false
	}
	for i := range p.Salt {
		if p.Salt[i] != other.Salt[i] {
			return false
		}
	}
	return true
}

// Option customizes NewParams.
type Option func(*Params)

// WithSalt sets an explicit salt instead of generating a random one.
func WithSalt(salt []byte) Option {
	return func(p *Params) {
		p.Salt = util.CopyBytes(salt)
	}
}

// WithTime sets the Argon2id time (iteration) cost.
func WithTime(t uint32) Option {
	return func(p *Params) {
		p.Time = t
	}
}

// WithMemoryKiB sets the Argon2id memory cost in KiB.
func WithMemoryKiB(m uint32) Option {
	return func(p *Params) {
		p.MemoryKiB = m
	}
}

// WithParallelism sets the Argon2id lane count.
func WithParallelism(threads uint8) Option {
	return func(p *Params) {
		p.Parallelism = threads
	}
}

// WithProfile applies a named cost profile before other options.
func WithProfile(profile Params) Option {
	return func(p *Params) {
		p.Time = profile.Time
		p.MemoryKiB = profile.MemoryKiB
		p.Parallelism = profile.Parallelism
	}
}

// NewParams builds a validated parameter set. Without options it uses the
// moderate profile and a fresh random 16-byte salt.
func NewParams(opts ...Option) (Params, error) {
	p := ProfileModerate()
	p.Algorithm = AlgorithmArgon2id
	for _, opt := range opts {
		opt(&p)
	}
	if p.Salt == nil {
		salt, err := util.RandomBytes(16)
		if err != nil {
			return Params{}, fmt.Errorf("generating salt: %w", err)
		}
		p.Salt = salt
	}
	if err := Validate(p); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks a parameter set against the hard bounds.
func Validate(p Params) error {
	if p.Algorithm != AlgorithmArgon2id {
		return &ValidationError{Field: "algorithm", Reason: fmt.Sprintf("unsupported algorithm %q", p.Algorithm)}
	}
	if len(p.Salt) < MinSaltLength || len(p.Salt) > MaxSaltLength {
		return &ValidationError{Field: "salt", Reason: fmt.Sprintf("length %d outside [%d, %d]", len(p.Salt), MinSaltLength, MaxSaltLength)}
	}
	if p.Time < MinTime || p.Time > MaxTime {
		return &ValidationError{Field: "time", Reason: fmt.Sprintf("%d outside [%d, %d]", p.Time, MinTime, MaxTime)}
	}
	if p.MemoryKiB < MinMemoryKiB || p.MemoryKiB > MaxMemoryKiB {
		return &ValidationError{Field: "memory", Reason: fmt.Sprintf("%d KiB outside [%d, %d]", p.MemoryKiB, MinMemoryKiB, MaxMemoryKiB)}
	}
	if p.Parallelism < MinParallelism || p.Parallelism > MaxParallelism {
		return &ValidationError{Field: "parallelism", Reason: fmt.Sprintf("%d outside [%d, %d]", p.Parallelism, MinParallelism, MaxParallelism)}
	}
	return nil
}

// DeriveKey derives keyLen bytes from the passphrase. Parameters are
// validated before any derivation work begins. The passphrase is
// NFKD-normalized so platform input differences don't change the key.
// Derivation runs on its own goroutine so a cancelled context returns
// promptly, though the underlying Argon2id work cannot be interrupted.
func DeriveKey(ctx context.Context, passphrase string, p Params, keyLen int) ([]byte, error) {
	if keyLen != KeyLength {
		return nil, &ValidationError{Field: "keyLen", Reason: fmt.Sprintf("derived key length must be %d bytes, got %d", KeyLength, keyLen)}
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan []byte, 1)
	go func() {
		done <- argon2.IDKey(
			[]byte(util.Normalize(passphrase)),
			p.Salt, p.Time, p.MemoryKiB, p.Parallelism, uint32(keyLen),
		)
	}()

	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		// Let the derivation goroutine finish and wipe its result.
		go func() {
			util.WipeBytes(<-done)
		}()
		return nil, ctx.Err()
	}
}
