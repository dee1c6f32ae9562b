package vault

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	indexKeyInfo = "gdprvault/index-key"
)

// Secret is a versioned piece of key material as handed out by a secret store.
type Secret struct {
	Version int
	Value   []byte
}

// DeriveKey turns a configured secret into an AES-256 key.
//
// A secret already in native key form (32 raw bytes, or base64 of 32 bytes) is used
// as-is. Anything else is stretched with Argon2id under a salt fixed by the key
// version, so the same secret and version always yield the same key.
func DeriveKey(secret []byte, version int, params *Argon2Params) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret for key version %d is empty", version)
	}
	if key, ok := nativeKey(secret); ok {
		return key, nil
	}
	if params == nil {
		params = DefaultArgon2Params()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid argon2 parameters: %w", err)
	}

	salt := versionSalt(version, params.SaltLength)
	return argon2.IDKey(secret, salt, params.Iterations, params.Memory, params.Parallelism, KeySize), nil
}

// DeriveIndexKey expands the index secret into the HMAC key used by HashForIndex.
func DeriveIndexKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("index secret is empty")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(indexKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to expand index key: %w", err)
	}
	return key, nil
}

func nativeKey(secret []byte) ([]byte, bool) {
	if len(secret) == KeySize {
		key := make([]byte, KeySize)
		copy(key, secret)
		return key, true
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(string(secret)); err == nil && len(decoded) == KeySize {
			return decoded, true
		}
	}
	return nil, false
}

func versionSalt(version int, length uint32) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("gdprvault/pii-key/v%d", version)))
	return sum[:length]
}
