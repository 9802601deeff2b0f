// Package aad builds associated-data frames that bind ciphertexts to their
// logical location. Every field is length-prefixed so no two distinct inputs
// can produce the same frame.
package aad

import (
	"encoding/binary"
)

const (
	ctxItem   = "ITEM"
	ctxRecord = "RECORD"
	ctxRemote = "REMOTE"
	ctxCheck  = "KEYCHECK"
)

// Item binds an encrypted item payload to its vault and item identifiers.
func Item(vaultID, itemID string) []byte {
	return build(ctxItem, vaultID, itemID)
}

// Record binds an at-rest storage record to its bucket coordinates.
func Record(vaultID, recordType, recordID string) []byte {
	return build(ctxRecord, vaultID, recordType, recordID)
}

// Remote binds a full synchronized vault payload to its vault identifier.
func Remote(vaultID string) []byte {
	return build(ctxRemote, vaultID)
}

// Bind prefixes caller associated data with the frame header version so the
// version always participates in authentication.
func Bind(version int, ad []byte) []byte {
	return build(version, ad)
}

// KeyCheck binds the store key verifier record.
func KeyCheck(storeID string) []byte {
	return build(ctxCheck, storeID)
}

func build(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			res = append(res, b...)
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
