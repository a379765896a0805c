package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"nostr-cms/internal/nips"
)

// Known pairs from common signer implementations.
const (
	knownPubHex = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	knownNpub   = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
	knownSecHex = "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa"
	knownNsec   = "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5"
)

func encodeNsecForTest(t *testing.T, raw []byte) string {
	t.Helper()
	data, err := nips.Bech32ConvertBits(raw, 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	return nips.Bech32Encode("nsec", data)
}

func TestEncodeNpubKnownVector(t *testing.T) {
	npub, err := EncodeNpub(knownPubHex)
	if err != nil {
		t.Fatalf("EncodeNpub failed: %v", err)
	}
	if npub != knownNpub {
		t.Errorf("npub mismatch\n  got:      %s\n  expected: %s", npub, knownNpub)
	}
}

func TestDecodeNpubKnownVector(t *testing.T) {
	got, err := DecodeNpub(knownNpub)
	if err != nil {
		t.Fatalf("DecodeNpub failed: %v", err)
	}
	if got != knownPubHex {
		t.Errorf("pubkey mismatch: %s", got)
	}
}

func TestDecodeNsecKnownVector(t *testing.T) {
	got, err := DecodeNsec(knownNsec)
	if err != nil {
		t.Fatalf("DecodeNsec failed: %v", err)
	}
	want, _ := hex.DecodeString(knownSecHex)
	if !bytes.Equal(got, want) {
		t.Errorf("key mismatch: %x", got)
	}
}

func TestNpubRoundtrip(t *testing.T) {
	npub, err := EncodeNpub(testPubKeyHex)
	if err != nil {
		t.Fatalf("EncodeNpub failed: %v", err)
	}
	back, err := DecodeNpub(npub)
	if err != nil {
		t.Fatalf("DecodeNpub failed: %v", err)
	}
	if back != testPubKeyHex {
		t.Errorf("roundtrip changed key: %s", back)
	}
}

func TestDecodeRejectsWrongPrefix(t *testing.T) {
	if _, err := DecodeNsec(knownNpub); err == nil {
		t.Error("npub should not decode as nsec")
	}
	if _, err := DecodeNpub(knownNsec); err == nil {
		t.Error("nsec should not decode as npub")
	}
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	corrupted := knownNpub[:len(knownNpub)-1] + "q"
	if corrupted == knownNpub {
		corrupted = knownNpub[:len(knownNpub)-1] + "p"
	}
	if _, err := DecodeNpub(corrupted); err == nil {
		t.Error("corrupted checksum should be rejected")
	}
}
