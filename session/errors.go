package session

import "errors"

var (
	// ErrLocked indicates no valid key is available: never stored, cleared,
	// or past its TTL.
	ErrLocked = errors.New("session locked")
	// ErrEmptyKey indicates StoreKey was called with no key material.
	ErrEmptyKey = errors.New("empty key")
	// ErrInvalidTTL indicates a zero or negative TTL.
	ErrInvalidTTL = errors.New("ttl must be positive")
)
