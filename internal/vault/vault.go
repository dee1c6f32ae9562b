// Package vault encrypts, masks and indexes patient-identifying fields.
//
// A Vault is immutable once built. Rotating keys means building a new Vault from
// re-derived key material, never mutating one in place.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/hengadev/gdprvault/internal/gdprerr"
)

const (
	// MaxKeyVersion is the largest version that fits the one-byte envelope header.
	MaxKeyVersion = 255

	headerSize = 1
)

// Vault holds one AEAD per key version plus the index key.
type Vault struct {
	aeads    map[int]cipher.AEAD
	current  int
	indexKey []byte
}

// New derives every key in keys and returns a Vault encrypting with the current version.
// Older versions stay available for decryption until the rows they protect are re-encrypted.
func New(keys []Secret, current int, indexSecret []byte, params *Argon2Params) (*Vault, error) {
	if current < 1 || current > MaxKeyVersion {
		return nil, fmt.Errorf("current key version must be between 1 and %d, got %d", MaxKeyVersion, current)
	}

	aeads := make(map[int]cipher.AEAD, len(keys))
	for _, k := range keys {
		if k.Version < 1 || k.Version > MaxKeyVersion {
			return nil, fmt.Errorf("key version must be between 1 and %d, got %d", MaxKeyVersion, k.Version)
		}
		if _, dup := aeads[k.Version]; dup {
			return nil, fmt.Errorf("duplicate key version %d", k.Version)
		}
		key, err := DeriveKey(k.Value, k.Version, params)
		if err != nil {
			return nil, err
		}
		aead, err := newAEAD(key)
		if err != nil {
			return nil, err
		}
		aeads[k.Version] = aead
	}
	if _, ok := aeads[current]; !ok {
		return nil, fmt.Errorf("no key material for current version %d", current)
	}

	indexKey, err := DeriveIndexKey(indexSecret)
	if err != nil {
		return nil, err
	}

	return &Vault{aeads: aeads, current: current, indexKey: indexKey}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// KeyVersion is the version new ciphertexts are tagged with.
func (v *Vault) KeyVersion() int {
	return v.current
}

// Encrypt seals plaintext under the current key.
// The output is version byte, nonce, then the GCM payload. Every call uses a fresh
// nonce, so equal plaintexts never produce equal ciphertexts. Empty input maps to nil.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	aead := v.aeads[v.current]

	out := make([]byte, headerSize+aead.NonceSize(), headerSize+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = byte(v.current)
	nonce := out[headerSize:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, gdprerr.NewEncryptionError("failed to generate nonce", err)
	}
	return aead.Seal(out, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt with whichever key version tagged it.
// Nil or empty input maps to the empty string; anything else that fails to open is a
// decryption error and is never defaulted.
func (v *Vault) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	version, err := CiphertextVersion(ciphertext)
	if err != nil {
		return "", err
	}
	aead, ok := v.aeads[version]
	if !ok {
		return "", gdprerr.NewDecryptionError(fmt.Sprintf("no key material for version %d", version), nil)
	}
	nonceSize := aead.NonceSize()
	if len(ciphertext) < headerSize+nonceSize+aead.Overhead() {
		return "", gdprerr.NewDecryptionError("invalid ciphertext size", nil)
	}
	nonce := ciphertext[headerSize : headerSize+nonceSize]
	plaintext, err := aead.Open(nil, nonce, ciphertext[headerSize+nonceSize:], nil)
	if err != nil {
		return "", gdprerr.NewDecryptionError("failed to open payload", err)
	}
	return string(plaintext), nil
}

// CiphertextVersion reads the key version a ciphertext was sealed with.
func CiphertextVersion(ciphertext []byte) (int, error) {
	if len(ciphertext) < headerSize {
		return 0, gdprerr.NewDecryptionError("ciphertext has no version header", nil)
	}
	version := int(ciphertext[0])
	if version == 0 {
		return 0, gdprerr.NewDecryptionError("ciphertext has invalid version 0", nil)
	}
	return version, nil
}

// Mask replaces all but the trailing visibleTail runes of value with '*'.
// Values no longer than visibleTail are masked entirely.
func Mask(value string, visibleTail int) string {
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return ""
	}
	if visibleTail < 0 {
		visibleTail = 0
	}
	if n <= visibleTail {
		return strings.Repeat("*", n)
	}
	runes := []rune(value)
	return strings.Repeat("*", n-visibleTail) + string(runes[n-visibleTail:])
}

// Mask is the method form of Mask for callers holding a Vault.
func (v *Vault) Mask(value string, visibleTail int) string {
	return Mask(value, visibleTail)
}

// HashForIndex returns a keyed, non-reversible lookup key for value.
// Input is trimmed and lowercased so lookups tolerate formatting differences.
func (v *Vault) HashForIndex(value string) string {
	mac := hmac.New(sha256.New, v.indexKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(mac.Sum(nil))
}
