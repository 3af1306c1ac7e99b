package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	sealPrefix = "v1:"
	saltSize   = 16
	keySize    = 32
)

// ErrUnseal is returned when a sealed value is malformed or fails authentication.
var ErrUnseal = errors.New("unseal failed")

// SecretBox encrypts small secrets (TOTP seeds) at rest with AES-256-GCM. Each
// value gets its own random salt; the key is derived from the master key with scrypt.
// Sealed format: "v1:" + base64(salt || nonce || ciphertext).
type SecretBox struct {
	masterKey []byte
	n         int
}

// NewSecretBox returns a SecretBox using masterKey and the production scrypt cost.
func NewSecretBox(masterKey string) *SecretBox {
	return &SecretBox{masterKey: []byte(masterKey), n: 1 << 15}
}

func (b *SecretBox) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(b.masterKey, salt, b.n, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (b *SecretBox) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealPrefix) {
		return "", ErrUnseal
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil || len(raw) < saltSize {
		return "", ErrUnseal
	}
	gcm, err := b.aead(raw[:saltSize])
	if err != nil {
		return "", err
	}
	rest := raw[saltSize:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrUnseal
	}
	plain, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrUnseal
	}
	return string(plain), nil
}
