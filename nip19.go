package main

import (
	"encoding/hex"
	"errors"
	"strings"

	"nostr-cms/internal/nips"
)

// EncodeNpub encodes a hex public key as an npub1... bech32 string.
func EncodeNpub(hexPubkey string) (string, error) {
	raw, err := hex.DecodeString(hexPubkey)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", errors.New("invalid pubkey length")
	}

	data, err := nips.Bech32ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return nips.Bech32Encode("npub", data), nil
}

// DecodeNpub decodes an npub1... string to a hex public key.
func DecodeNpub(npub string) (string, error) {
	raw, err := decodeKey(npub, "npub")
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// DecodeNsec decodes an nsec1... string to raw private key bytes.
func DecodeNsec(nsec string) ([]byte, error) {
	return decodeKey(nsec, "nsec")
}

func decodeKey(bech, wantHrp string) ([]byte, error) {
	if !strings.HasPrefix(strings.ToLower(bech), wantHrp+"1") {
		return nil, errors.New("not a " + wantHrp)
	}

	hrp, data, err := nips.Bech32Decode(bech)
	if err != nil {
		return nil, err
	}
	if hrp != wantHrp {
		return nil, errors.New("invalid hrp for " + wantHrp)
	}

	raw, err := nips.Bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, errors.New("invalid key length")
	}
	return raw, nil
}
