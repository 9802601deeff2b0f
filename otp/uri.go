package otp

import (
	"encoding/base32"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// maxURILength guards against abuse via oversized URIs (e.g. from a
	// malicious QR code).
	maxURILength = 1024

	maxPeriod = 86400

	defaultDigits = 6
	defaultPeriod = 30
)

// ParseError reports a rejected otpauth URI or OTP parameter, with the
// offending field and a specific reason. Parse failures indicate bad input
// and are never retryable.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("otp: invalid %s: %s", e.Field, e.Reason)
}

// ParseURI parses an otpauth:// URI into a validated Config.
//
//	otpauth://{totp|hotp}/{label}?secret=..&issuer=..&algorithm=..&digits=..&period=..&counter=..
func ParseURI(raw string) (*Config, error) {
	if len(raw) > maxURILength {
		return nil, &ParseError{Field: "uri", Reason: fmt.Sprintf("exceeds %d bytes", maxURILength)}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ParseError{Field: "uri", Reason: err.Error()}
	}
	if u.Scheme != "otpauth" {
		return nil, &ParseError{Field: "scheme", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	cfg := &Config{
		Type:      Type(strings.ToLower(u.Host)),
		Algorithm: AlgorithmSHA1,
		Digits:    defaultDigits,
	}
	if cfg.Type != TypeTOTP && cfg.Type != TypeHOTP {
		return nil, &ParseError{Field: "type", Reason: fmt.Sprintf("unsupported type %q", u.Host)}
	}
	if cfg.Type == TypeTOTP {
		cfg.Period = defaultPeriod
	}

	cfg.Label = strings.TrimPrefix(u.Path, "/")
	if issuer, label, found := strings.Cut(cfg.Label, ":"); found {
		cfg.Issuer = issuer
		cfg.Label = strings.TrimSpace(label)
	}

	q := u.Query()

	secret := strings.ToUpper(strings.TrimSpace(q.Get("secret")))
	if secret == "" {
		return nil, &ParseError{Field: "secret", Reason: "missing"}
	}
	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(secret, "="))
	if err != nil {
		return nil, &ParseError{Field: "secret", Reason: "not valid Base32"}
	}
	cfg.Secret = decoded

	if issuer := q.Get("issuer"); issuer != "" {
		cfg.Issuer = issuer
	}

	if alg := q.Get("algorithm"); alg != "" {
		cfg.Algorithm = Algorithm(strings.ToUpper(alg))
		if _, err := cfg.Algorithm.hashFunc(); err != nil {
			return nil, &ParseError{Field: "algorithm", Reason: fmt.Sprintf("unsupported algorithm %q", alg)}
		}
	}

	if d := q.Get("digits"); d != "" {
		digits, err := strconv.Atoi(d)
		if err != nil {
			return nil, &ParseError{Field: "digits", Reason: fmt.Sprintf("not a number: %q", d)}
		}
		if digits != 6 && digits != 8 {
			return nil, &ParseError{Field: "digits", Reason: fmt.Sprintf("must be 6 or 8, got %d", digits)}
		}
		cfg.Digits = digits
	}

	if p := q.Get("period"); p != "" {
		if cfg.Type != TypeTOTP {
			return nil, &ParseError{Field: "period", Reason: "only valid for TOTP"}
		}
		period, err := strconv.Atoi(p)
		if err != nil {
			return nil, &ParseError{Field: "period", Reason: fmt.Sprintf("not a number: %q", p)}
		}
		if period < 1 || period > maxPeriod {
			return nil, &ParseError{Field: "period", Reason: fmt.Sprintf("must be in 1..%d, got %d", maxPeriod, period)}
		}
		cfg.Period = period
	}

	if c := q.Get("counter"); c != "" {
		counter, err := strconv.ParseUint(c, 10, 64)
		if err != nil {
			return nil, &ParseError{Field: "counter", Reason: fmt.Sprintf("not a number: %q", c)}
		}
		cfg.Counter = counter
	} else if cfg.Type == TypeHOTP {
		return nil, &ParseError{Field: "counter", Reason: "required for HOTP"}
	}

	return cfg, nil
}

// URI renders the config back into its otpauth:// form.
func (c *Config) URI() string {
	label := url.PathEscape(c.Label)
	if c.Issuer != "" {
		label = url.PathEscape(c.Issuer + ":" + c.Label)
	}

	values := url.Values{}
	values.Set("secret", base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(c.Secret))
	if c.Issuer != "" {
		values.Set("issuer", c.Issuer)
	}
	values.Set("algorithm", string(c.Algorithm))
	values.Set("digits", strconv.Itoa(c.Digits))
	switch c.Type {
	case TypeTOTP:
		values.Set("period", strconv.Itoa(c.Period))
	case TypeHOTP:
		values.Set("counter", strconv.FormatUint(c.Counter, 10))
	}
	return "otpauth://" + string(c.Type) + "/" + label + "?" + values.Encode()
}
