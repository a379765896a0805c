package main

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestParsePrivateKey(t *testing.T) {
	want, _ := hex.DecodeString(testPrivKeyHex)

	cases := []struct {
		desc  string
		input string
	}{
		{"plain hex", testPrivKeyHex},
		{"0x prefix", "0x" + testPrivKeyHex},
		{"uppercase", "EDC90D06FEE17615229C8526DC005D959E4AF3BDC0B48C5776C951BCAFEDEC85"},
		{"surrounding whitespace", "  " + testPrivKeyHex + "\n"},
	}

	for _, tc := range cases {
		got, err := parsePrivateKey(tc.input)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.desc, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s: got %x", tc.desc, got)
		}
	}
}

func TestParsePrivateKeyRestoresLeadingZero(t *testing.T) {
	// A key whose leading zero was dropped by a decimal-unaware tool.
	full := "0" + testPrivKeyHex[1:]
	got, err := parsePrivateKey(full[1:])
	if err != nil {
		t.Fatalf("63-char key rejected: %v", err)
	}
	if hex.EncodeToString(got) != full {
		t.Errorf("leading zero not restored: %x", got)
	}
}

func TestParsePrivateKeyNsec(t *testing.T) {
	raw, err := generatePrivateKey()
	if err != nil {
		t.Fatalf("generatePrivateKey failed: %v", err)
	}
	nsec := encodeNsecForTest(t, raw)

	got, err := parsePrivateKey(nsec)
	if err != nil {
		t.Fatalf("nsec rejected: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("nsec roundtrip mismatch: %x vs %x", got, raw)
	}
}

func TestParsePrivateKeyInvalid(t *testing.T) {
	cases := []struct {
		desc  string
		input string
	}{
		{"not hex", "zz" + testPrivKeyHex[2:]},
		{"too short", testPrivKeyHex[:40]},
		{"too long", testPrivKeyHex + "ff"},
		{"bad nsec checksum", "nsec1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"},
	}

	for _, tc := range cases {
		if _, err := parsePrivateKey(tc.input); err == nil {
			t.Errorf("%s: expected error", tc.desc)
		}
	}
}

func TestParsePublicKey(t *testing.T) {
	got, err := parsePublicKey(testPubKeyHex)
	if err != nil {
		t.Fatalf("hex pubkey rejected: %v", err)
	}
	if got != testPubKeyHex {
		t.Errorf("hex pubkey changed: %s", got)
	}

	npub, err := EncodeNpub(testPubKeyHex)
	if err != nil {
		t.Fatalf("EncodeNpub failed: %v", err)
	}
	got, err = parsePublicKey(npub)
	if err != nil {
		t.Fatalf("npub rejected: %v", err)
	}
	if got != testPubKeyHex {
		t.Errorf("npub decoded to %s", got)
	}

	if _, err := parsePublicKey("tooshort"); err == nil {
		t.Error("short pubkey should be rejected")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "APP_NAME", "APP_URL", "NOSTR_RELAYS", "NOSTR_RELAY_URL", "NOSTR_PRIVATE_KEY", "NOSTR_PUBLIC_KEY"} {
		t.Setenv(key, "")
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("default port: %s", cfg.Port)
	}
	if len(cfg.Relays) != 1 || cfg.Relays[0] != defaultRelayURL {
		t.Errorf("default relays: %v", cfg.Relays)
	}
	if cfg.HasSigner() {
		t.Error("no signer should be configured")
	}
}

func TestLoadConfigRelayList(t *testing.T) {
	t.Setenv("NOSTR_RELAYS", "wss://a.example, wss://b.example ,")
	t.Setenv("NOSTR_RELAY_URL", "wss://ignored.example")
	t.Setenv("NOSTR_PRIVATE_KEY", "")
	t.Setenv("NOSTR_PUBLIC_KEY", "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if len(cfg.Relays) != 2 || cfg.Relays[0] != "wss://a.example" || cfg.Relays[1] != "wss://b.example" {
		t.Errorf("relay list: %v", cfg.Relays)
	}
}

func TestLoadConfigDerivesPublicKey(t *testing.T) {
	t.Setenv("NOSTR_RELAYS", "")
	t.Setenv("NOSTR_RELAY_URL", "")
	t.Setenv("NOSTR_PRIVATE_KEY", testPrivKeyHex)
	t.Setenv("NOSTR_PUBLIC_KEY", "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if !cfg.HasSigner() {
		t.Fatal("signer should be configured")
	}
	if cfg.PublicKey != testPubKeyHex {
		t.Errorf("derived pubkey: %s", cfg.PublicKey)
	}
}
