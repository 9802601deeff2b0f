package blobcrypt

import (
	"encoding/binary"
	"fmt"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
)

// Wire frame for a blob pushed to a cloud provider:
//
//	[1]  header version
//	[1]  nonce length
//	[n]  nonce
//	[4]  associated data length (big endian)
//	[n]  associated data
//	[4]  ciphertext length (big endian)
//	[n]  ciphertext (tag at tail)

const maxFrameSection = 64 * 1024 * 1024

// MarshalBinary serializes the blob for transport or at-rest storage.
func (b *Blob) MarshalBinary() ([]byte, error) {
	if b.HeaderVersion < 0 || b.HeaderVersion > 0xff {
		return nil, fmt.Errorf("header version %d does not fit frame", b.HeaderVersion)
	}
	if len(b.Nonce) > 0xff {
		return nil, fmt.Errorf("nonce length %d does not fit frame", len(b.Nonce))
	}

	out := make([]byte, 0, 2+len(b.Nonce)+8+len(b.AssociatedData)+len(b.Ciphertext))
	out = append(out, byte(b.HeaderVersion), byte(len(b.Nonce)))
	out = append(out, b.Nonce...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(b.AssociatedData)))
	out = append(out, b.AssociatedData...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(b.Ciphertext)))
	out = append(out, b.Ciphertext...)
	return out, nil
}

// UnmarshalBinary parses a serialized blob. It performs structural checks
// only; authenticity is established by Decrypt.
func (b *Blob) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return ErrFrameTruncated
	}
	b.HeaderVersion = int(data[0])
	nonceLen := int(data[1])
	data = data[2:]

	nonce, data, err := takeSection(data, nonceLen)
	if err != nil {
		return err
	}

	adLen, data, err := takeUint32(data)
	if err != nil {
		return err
	}
	ad, data, err := takeSection(data, adLen)
	if err != nil {
		return err
	}

	ctLen, data, err := takeUint32(data)
	if err != nil {
		return err
	}
	ct, data, err := takeSection(data, ctLen)
	if err != nil {
		return err
	}
	if len(data) != 0 {
		return fmt.Errorf("%d trailing bytes after blob frame", len(data))
	}

	b.Nonce = util.CopyBytes(nonce)
	b.AssociatedData = util.CopyBytes(ad)
	b.Ciphertext = util.CopyBytes(ct)
	return nil
}

func takeUint32(data []byte) (int, []byte, error) {
	if len(data) < 4 {
		return 0, nil, ErrFrameTruncated
	}
	n := int(binary.BigEndian.Uint32(data))
	if n > maxFrameSection {
		return 0, nil, fmt.Errorf("frame section of %d bytes exceeds limit", n)
	}
	return n, data[4:], nil
}

func takeSection(data []byte, n int) ([]byte, []byte, error) {
	if len(data) < n {
		return nil, nil, ErrFrameTruncated
	}
	return data[:n], data[n:], nil
}
