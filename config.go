package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const defaultRelayURL = "wss://relay.damus.io"

// Config holds all environment-derived settings. It is built once at startup
// and passed by reference; nothing reads the environment after that.
type Config struct {
	Port    string
	Relays  []string
	AppName string
	AppURL  string

	// PrivateKey is the server signing key, nil when not configured.
	// PublicKey is derived from it, or taken from NOSTR_PUBLIC_KEY as a
	// fallback read identity when no signing key exists.
	PrivateKey []byte
	PublicKey  string
}

// HasSigner reports whether server-side signing is available.
func (c *Config) HasSigner() bool {
	return len(c.PrivateKey) == 32
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Port:    os.Getenv("PORT"),
		AppName: os.Getenv("APP_NAME"),
		AppURL:  os.Getenv("APP_URL"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.AppName == "" {
		cfg.AppName = "Nostr CMS"
	}

	cfg.Relays = relaysFromEnv()

	if raw := os.Getenv("NOSTR_PRIVATE_KEY"); raw != "" {
		key, err := parsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("NOSTR_PRIVATE_KEY: %w", err)
		}
		cfg.PrivateKey = key
		pub, err := derivePublicKey(key)
		if err != nil {
			return nil, fmt.Errorf("NOSTR_PRIVATE_KEY: %w", err)
		}
		cfg.PublicKey = pub
	} else if raw := os.Getenv("NOSTR_PUBLIC_KEY"); raw != "" {
		pub, err := parsePublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("NOSTR_PUBLIC_KEY: %w", err)
		}
		cfg.PublicKey = pub
	}

	return cfg, nil
}

func relaysFromEnv() []string {
	if list := os.Getenv("NOSTR_RELAYS"); list != "" {
		var relays []string
		for _, r := range strings.Split(list, ",") {
			if r = strings.TrimSpace(r); r != "" {
				relays = append(relays, r)
			}
		}
		if len(relays) > 0 {
			return relays
		}
	}
	if url := os.Getenv("NOSTR_RELAY_URL"); url != "" {
		return []string{url}
	}
	return []string{defaultRelayURL}
}

// parsePrivateKey accepts an nsec1... bech32 key or a hex key (optionally
// 0x-prefixed; a 63-char hex value gets a leading zero restored).
func parsePrivateKey(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(strings.ToLower(trimmed), "nsec1") {
		return DecodeNsec(trimmed)
	}

	normalized := strings.ToLower(trimmed)
	normalized = strings.TrimPrefix(normalized, "0x")

	for _, c := range normalized {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return nil, errors.New("invalid hex character in private key")
		}
	}

	if len(normalized) == 63 {
		normalized = "0" + normalized
	}
	if len(normalized) != 64 {
		return nil, fmt.Errorf("expected 64 hex characters, got %d", len(normalized))
	}

	return hex.DecodeString(normalized)
}

// parsePublicKey accepts an npub1... or 64-char hex public key and returns hex.
func parsePublicKey(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(strings.ToLower(trimmed), "npub1") {
		return DecodeNpub(trimmed)
	}

	normalized := strings.ToLower(trimmed)
	if len(normalized) != 64 {
		return "", errors.New("expected 64 hex characters or npub")
	}
	if _, err := hex.DecodeString(normalized); err != nil {
		return "", errors.New("invalid hex public key")
	}
	return normalized, nil
}
