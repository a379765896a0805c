package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// NIP-44 v2 payload encryption. Used by the connect listener to exchange
// kind 24133 messages with remote signers.

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	maxPlaintextSize = 65535
)

// conversationKey derives the shared NIP-44 key between a private key and an
// x-only public key via ECDH + HKDF-extract.
func conversationKey(privKeyBytes, pubKeyBytes []byte) ([]byte, error) {
	if len(privKeyBytes) != 32 || len(pubKeyBytes) != 32 {
		return nil, errors.New("invalid key length")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	if privKey == nil {
		return nil, errors.New("invalid private key")
	}

	// x-only pubkeys carry no y parity; try even then odd
	prefixed := append([]byte{0x02}, pubKeyBytes...)
	pubKey, err := btcec.ParsePubKey(prefixed)
	if err != nil {
		prefixed[0] = 0x03
		pubKey, err = btcec.ParsePubKey(prefixed)
		if err != nil {
			return nil, errors.New("invalid public key")
		}
	}

	sharedX, _ := pubKey.ToECDSA().Curve.ScalarMult(pubKey.X(), pubKey.Y(), privKey.Serialize())
	shared := make([]byte, 32)
	raw := sharedX.Bytes()
	copy(shared[32-len(raw):], raw)

	return hkdf.Extract(sha256.New, shared, []byte(nip44Salt)), nil
}

func messageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(convKey) != 32 || len(nonce) != 32 {
		return nil, nil, nil, errors.New("invalid key or nonce length")
	}
	keys := make([]byte, 76)
	if _, err := hkdf.Expand(sha256.New, convKey, nonce).Read(keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func paddedLen(unpadded int) int {
	if unpadded <= 32 {
		return 32
	}
	nextPower := 1 << int(math.Floor(math.Log2(float64(unpadded-1)))+1)
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((unpadded-1)/chunk + 1)
}

func padPlaintext(plaintext []byte) ([]byte, error) {
	if len(plaintext) < 1 || len(plaintext) > maxPlaintextSize {
		return nil, errors.New("invalid plaintext length")
	}
	result := make([]byte, 2+paddedLen(len(plaintext)))
	binary.BigEndian.PutUint16(result[0:2], uint16(len(plaintext)))
	copy(result[2:], plaintext)
	return result, nil
}

func unpadPlaintext(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, errors.New("padded data too short")
	}
	unpadded := int(binary.BigEndian.Uint16(padded[0:2]))
	if unpadded == 0 || unpadded > len(padded)-2 {
		return nil, errors.New("invalid padding")
	}
	if len(padded) != 2+paddedLen(unpadded) {
		return nil, errors.New("invalid padded length")
	}
	return padded[2 : 2+unpadded], nil
}

func hmacWithAAD(key, message, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}

// nip44Encrypt encrypts plaintext under the conversation key with a fresh nonce.
func nip44Encrypt(plaintext string, convKey []byte) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return nip44EncryptWithNonce(plaintext, convKey, nonce)
}

func nip44EncryptWithNonce(plaintext string, convKey, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := padPlaintext([]byte(plaintext))
	if err != nil {
		return "", err
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)

	mac := hmacWithAAD(hmacKey, ciphertext, nonce)

	// version || nonce || ciphertext || mac
	result := make([]byte, 1+32+len(ciphertext)+32)
	result[0] = nip44Version
	copy(result[1:33], nonce)
	copy(result[33:33+len(ciphertext)], ciphertext)
	copy(result[33+len(ciphertext):], mac)

	return base64.StdEncoding.EncodeToString(result), nil
}

// nip44Decrypt decrypts a NIP-44 payload, verifying the MAC first.
func nip44Decrypt(payload string, convKey []byte) (string, error) {
	if len(payload) > 0 && payload[0] == '#' {
		return "", errors.New("unsupported encryption version")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", errors.New("invalid base64")
	}
	if len(data) < 99 || len(data) > 65603 {
		return "", errors.New("invalid payload size")
	}
	if data[0] != nip44Version {
		return "", errors.New("unknown version")
	}

	nonce := data[1:33]
	ciphertext := data[33 : len(data)-32]
	mac := data[len(data)-32:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	if !hmac.Equal(hmacWithAAD(hmacKey, ciphertext, nonce), mac) {
		return "", errors.New("invalid MAC")
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)

	plaintext, err := unpadPlaintext(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
