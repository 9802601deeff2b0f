package util

import (
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD normalization so the same passphrase typed on
// different platforms derives the same key bytes.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}
