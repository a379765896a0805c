package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds used by this service
const (
	kindTextNote          = 1     // freeform posts
	kindClientAuth        = 22242 // NIP-42 style auth events submitted at login
	kindNostrConnect      = 24133 // NIP-46 signer traffic
	kindStructuredContent = 30000 // replaceable named documents ("d" tag keyed)
)

// Event is a NIP-01 protocol event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

var (
	errInvalidSignature = errors.New("invalid event signature")
	errWrongKind        = errors.New("unexpected event kind")
)

// computeEventID serializes the event per NIP-01 and returns the sha256 hex digest.
// Serialization: [0, pubkey, created_at, kind, tags, content]
func computeEventID(evt *Event) string {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	serialized := fmt.Sprintf(`[0,"%s",%d,%d,%s,"%s"]`,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		mustJSON(tags),
		escapeJSON(evt.Content),
	)

	hash := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(hash[:])
}

// verifyEvent checks that the event ID matches its contents and that the
// signature is a valid BIP-340 schnorr signature over the ID by the event's
// x-only pubkey.
func verifyEvent(evt *Event) error {
	if evt.ID != computeEventID(evt) {
		return errInvalidSignature
	}

	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil || len(pubKeyBytes) != 32 {
		return errInvalidSignature
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return errInvalidSignature
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return errInvalidSignature
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return errInvalidSignature
	}

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return errInvalidSignature
	}
	if !sig.Verify(idBytes, pubKey) {
		return errInvalidSignature
	}
	return nil
}

// signEvent fills in PubKey, ID, and Sig on an event template using the given
// private key. CreatedAt must already be set.
func signEvent(privKeyBytes []byte, evt *Event) error {
	if len(privKeyBytes) != 32 {
		return errors.New("invalid private key length")
	}

	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	if privKey == nil {
		return errors.New("invalid private key")
	}

	evt.PubKey = hex.EncodeToString(privKey.PubKey().SerializeCompressed()[1:])
	evt.ID = computeEventID(evt)

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return err
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// newSignedEvent builds and signs an event of the given kind.
func newSignedEvent(privKey []byte, kind int, tags [][]string, content string) (*Event, error) {
	evt := &Event{
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := signEvent(privKey, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// generatePrivateKey returns 32 bytes of fresh secp256k1 private key material.
func generatePrivateKey() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// derivePublicKey returns the x-only (BIP-340) public key for a private key,
// hex encoded.
func derivePublicKey(privKeyBytes []byte) (string, error) {
	if len(privKeyBytes) != 32 {
		return "", errors.New("invalid private key length")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	if privKey == nil {
		return "", errors.New("invalid private key")
	}
	return hex.EncodeToString(privKey.PubKey().SerializeCompressed()[1:]), nil
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func escapeJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil || len(b) < 2 {
		return s
	}
	// Strip surrounding quotes
	return string(b[1 : len(b)-1])
}
