package chain

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Addresses travel as url-safe base64 of 36 bytes: a tag byte, the workchain
// byte, the 32-byte account identifier, and a crc16 trailer over the first
// 34 bytes.
const (
	addressLen = 36

	tagBounceable        = 0x11
	tagNonBounceable     = 0x51
	tagBounceableTest    = 0x91
	tagNonBounceableTest = 0xD1
)

// Address is a parsed recipient or wallet address.
type Address struct {
	Tag       byte
	Workchain int8
	Account   [32]byte
}

var errAddressFormat = errors.New("chain: malformed address")

// ParseAddress decodes and validates a user-supplied address string.
func ParseAddress(s string) (Address, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// Some clients send padded or standard-alphabet encodings.
		raw, err = base64.URLEncoding.DecodeString(s)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %v", errAddressFormat, err)
		}
	}
	if len(raw) != addressLen {
		return Address{}, fmt.Errorf("%w: %d bytes", errAddressFormat, len(raw))
	}
	switch raw[0] {
	case tagBounceable, tagNonBounceable, tagBounceableTest, tagNonBounceableTest:
	default:
		return Address{}, fmt.Errorf("%w: unknown tag 0x%02x", errAddressFormat, raw[0])
	}
	want := uint16(raw[34])<<8 | uint16(raw[35])
	if crc16(raw[:34]) != want {
		return Address{}, fmt.Errorf("%w: checksum mismatch", errAddressFormat)
	}
	addr := Address{Tag: raw[0], Workchain: int8(raw[1])}
	copy(addr.Account[:], raw[2:34])
	return addr, nil
}

// String renders the address back to its url-safe base64 form.
func (a Address) String() string {
	raw := make([]byte, addressLen)
	raw[0] = a.Tag
	raw[1] = byte(a.Workchain)
	copy(raw[2:34], a.Account[:])
	sum := crc16(raw[:34])
	raw[34] = byte(sum >> 8)
	raw[35] = byte(sum)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// NewAddress builds a bounceable base-workchain address for an account
// identifier.
func NewAddress(account [32]byte) Address {
	return Address{Tag: tagBounceable, Workchain: 0, Account: account}
}

// crc16 implements CRC-16/XMODEM, the checksum used by the address format.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
