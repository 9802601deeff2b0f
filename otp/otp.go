// Package otp parses otpauth:// URIs and computes HOTP and TOTP codes per
// RFC 4226 and RFC 6238.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"time"
)

// Type selects the counter source for code generation.
type Type string

const (
	// TypeTOTP derives the counter from the current time.
	TypeTOTP Type = "totp"
	// TypeHOTP uses an explicit incrementing counter.
	TypeHOTP Type = "hotp"
)

// Algorithm selects the HMAC hash.
type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "SHA1"
	AlgorithmSHA256 Algorithm = "SHA256"
	AlgorithmSHA512 Algorithm = "SHA512"
)

func (a Algorithm) hashFunc() (func() hash.Hash, error) {
	switch a {
	case AlgorithmSHA1:
		return sha1.New, nil
	case AlgorithmSHA256:
		return sha256.New, nil
	case AlgorithmSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", string(a))
	}
}

// Config is a validated, immutable OTP configuration for a vault entry.
type Config struct {
	Type      Type
	Label     string
	Issuer    string
	Secret    []byte // decoded from Base32
	Algorithm Algorithm
	Digits    int
	Period    int    // seconds, TOTP only
	Counter   uint64 // HOTP only
}

// HOTP computes an RFC 4226 code: HMAC over the 8-byte big-endian counter,
// dynamic truncation, reduction mod 10^digits with zero padding.
func HOTP(secret []byte, counter uint64, digits int, algorithm Algorithm) (string, error) {
	if len(secret) == 0 {
		return "", &ParseError{Field: "secret", Reason: "empty secret"}
	}
	if digits != 6 && digits != 8 {
		return "", &ParseError{Field: "digits", Reason: fmt.Sprintf("must be 6 or 8, got %d", digits)}
	}
	hf, err := algorithm.hashFunc()
	if err != nil {
		return "", &ParseError{Field: "algorithm", Reason: err.Error()}
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: 4 bytes at the offset given by the low nibble of
	// the last byte, top bit masked off.
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, binCode%mod), nil
}

// TOTP computes the code for the time step containing now, along with the
// seconds remaining before the step rolls over.
func TOTP(cfg *Config, now time.Time) (code string, remaining int, err error) {
	if cfg.Type != TypeTOTP {
		return "", 0, &ParseError{Field: "type", Reason: "config is not TOTP"}
	}
	if cfg.Period < 1 || cfg.Period > maxPeriod {
		return "", 0, &ParseError{Field: "period", Reason: fmt.Sprintf("must be in 1..%d, got %d", maxPeriod, cfg.Period)}
	}

	unix := now.Unix()
	counter := uint64(unix / int64(cfg.Period))
	remaining = cfg.Period - int(unix%int64(cfg.Period))

	code, err = HOTP(cfg.Secret, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		return "", 0, err
	}
	return code, remaining, nil
}

// NextHOTP computes the code for the config's current counter and returns
// the config the caller should persist, with the counter advanced.
func NextHOTP(cfg *Config) (code string, next Config, err error) {
	if cfg.Type != TypeHOTP {
		return "", Config{}, &ParseError{Field: "type", Reason: "config is not HOTP"}
	}
	code, err = HOTP(cfg.Secret, cfg.Counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		return "", Config{}, err
	}
	next = *cfg
	next.Counter++
	return code, next, nil
}
