package chain

import (
	"errors"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	var account [32]byte
	for i := range account {
		account[i] = byte(i * 7)
	}
	addr := NewAddress(account)
	encoded := addr.String()

	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, addr)
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64":   "!!!not-base64!!!",
		"too short":    "AAEC",
		"bad checksum": strings.Repeat("A", 48),
	}
	for name, input := range cases {
		if _, err := ParseAddress(input); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if !errors.Is(err, errAddressFormat) {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
	}
}

func TestParseAddressRejectsCorruptedChecksum(t *testing.T) {
	var account [32]byte
	account[0] = 0xAB
	encoded := NewAddress(account).String()

	// Flip a character inside the account bytes so the crc no longer
	// matches.
	corrupted := []byte(encoded)
	if corrupted[10] == 'A' {
		corrupted[10] = 'B'
	} else {
		corrupted[10] = 'A'
	}
	if _, err := ParseAddress(string(corrupted)); err == nil {
		t.Fatal("expected checksum error")
	}
}
