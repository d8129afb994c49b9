package api

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned when a ciphertext cannot be opened.
var ErrDecrypt = errors.New("decryption failed")

const (
	saltSize    = 16
	sealVersion = 1
)

var hkdfInfo = []byte("plugkit utils.encrypt v1")

// UtilsAPI implements api.utils. None of its methods are gated.
type UtilsAPI struct{}

// GenerateID returns a random UUIDv4.
func (UtilsAPI) GenerateID() string {
	return uuid.NewString()
}

// Hash returns the hex BLAKE3-256 digest of data.
func (UtilsAPI) Hash(data string) string {
	sum := blake3.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Encrypt seals plaintext with a key derived from passphrase. The result
// is base64 of version || salt || nonce || ciphertext.
func (UtilsAPI) Encrypt(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("%w: passphrase must not be empty", ErrInvalidArgument)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := deriveAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), out[:1+saltSize])
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (UtilsAPI) Decrypt(sealed, passphrase string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrDecrypt)
	}
	header := 1 + saltSize + chacha20poly1305.NonceSizeX
	if len(raw) < header+chacha20poly1305.Overhead || raw[0] != sealVersion {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecrypt)
	}

	aead, err := deriveAEAD(passphrase, raw[1:1+saltSize])
	if err != nil {
		return "", err
	}
	nonce := raw[1+saltSize : header]
	plain, err := aead.Open(nil, nonce, raw[header:], raw[:1+saltSize])
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func deriveAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), salt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead, nil
}
