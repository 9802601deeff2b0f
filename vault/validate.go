package vault

import (
	"unicode"
	"unicode/utf8"
)

const (
	// MaxIDLength bounds vault and item identifiers.
	MaxIDLength = 255
	// MaxContentSize bounds a single item's plaintext.
	MaxContentSize = 1 << 20
)

func validateID(id, label string) error {
	if id == "" {
		return validationErrorf("%s must not be empty", label)
	}
	if len(id) > MaxIDLength {
		return validationErrorf("%s exceeds maximum length of %d", label, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return validationErrorf("%s contains invalid UTF-8", label)
	}
	for _, r := range id {
		if r == ':' || r == '/' {
			return validationErrorf("%s contains forbidden character %q", label, r)
		}
		if unicode.IsControl(r) {
			return validationErrorf("%s contains control character", label)
		}
	}
	return nil
}

func validateContentSize(content []byte) error {
	if len(content) > MaxContentSize {
		return validationErrorf("content of %d bytes exceeds maximum of %d", len(content), MaxContentSize)
	}
	return nil
}
