package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

//nolint:gochecknoglobals // sentinel error
var ErrInvalidKey = errors.New("secrets: invalid encryption key")

// MinMasterKeyLen is the shortest master key DeriveKeys accepts.
const MinMasterKeyLen = 32

// Vault encrypts/decrypts stored audit values using AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// NewVault creates a Vault with the given 32-byte encryption key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt encrypts plaintext and returns base64-encoded ciphertext.
// The output format is base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets.Encrypt: generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decrypts base64-encoded ciphertext and returns plaintext.
// Expects the format base64(nonce || ciphertext).
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets.Decrypt: base64 decode: %w", err)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("secrets.Decrypt: ciphertext too short")
	}

	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("secrets.Decrypt: %w", err)
	}

	return string(plaintext), nil
}

// Keys are the purpose-bound subkeys derived from one master key.
type Keys struct {
	Encryption []byte // AES-256-GCM key for audit old/new values
	Signing    []byte // HMAC-SHA256 key for compliance report signatures
}

// DeriveKeys expands master into independent 32-byte subkeys with
// HKDF-SHA256. The same master and salt always yield the same keys.
func DeriveKeys(master, salt []byte) (*Keys, error) {
	if len(master) < MinMasterKeyLen {
		return nil, fmt.Errorf("secrets.DeriveKeys: master key shorter than %d bytes: %w", MinMasterKeyLen, ErrInvalidKey)
	}

	enc, err := expand(master, salt, "costtrail audit value encryption")
	if err != nil {
		return nil, fmt.Errorf("secrets.DeriveKeys: %w", err)
	}
	sig, err := expand(master, salt, "costtrail report signing")
	if err != nil {
		return nil, fmt.Errorf("secrets.DeriveKeys: %w", err)
	}

	return &Keys{Encryption: enc, Signing: sig}, nil
}

func expand(master, salt []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// ParseMasterKey decodes a master key given as hex or standard base64.
func ParseMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("secrets.ParseMasterKey: neither hex nor base64: %w", ErrInvalidKey)
	}
	return b, nil
}
