// Package crypto seals secret config values (gateway tokens, cloud
// credentials) at rest with AES-256-GCM. Sealed values carry the "enc:"
// prefix; anything else passes through untouched so plain-text configs
// keep working.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const sealedPrefix = "enc:"

// Seal encrypts value with the passphrase. Empty passphrase or value
// returns the value unchanged.
func Seal(value, passphrase string) (string, error) {
	if passphrase == "" || value == "" {
		return value, nil
	}
	gcm, err := newGCM(passphrase)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Unsealed values are returned as-is, so
// it is safe to run over every secret field at config load.
func Open(value, passphrase string) (string, error) {
	if passphrase == "" || !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", errors.New("sealed value is not valid base64")
	}
	gcm, err := newGCM(passphrase)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", errors.New("unseal failed: wrong key or corrupted value")
	}
	return string(plain), nil
}

// IsSealed reports whether the value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

func newGCM(passphrase string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
