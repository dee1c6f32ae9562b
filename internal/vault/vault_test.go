package vault

import (
	"encoding/base64"
	"testing"

	"github.com/hengadev/errsx"
	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nativeSecret = []byte("0123456789abcdef0123456789abcdef")
	indexSecret  = []byte("index-pepper-for-tests")
)

// fastParams keeps Argon2id cheap in tests.
func fastParams() *Argon2Params {
	return &Argon2Params{Memory: 8192, Iterations: 1, Parallelism: 1, SaltLength: 16}
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New([]Secret{{Version: 1, Value: nativeSecret}}, 1, indexSecret, fastParams())
	require.NoError(t, err)
	return v
}

func TestVault_EncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "ascii name", plaintext: "Jane Doe"},
		{name: "national id", plaintext: "850101-1234567"},
		{name: "multibyte", plaintext: "山田 太郎"},
		{name: "empty input", plaintext: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := v.Encrypt(tt.plaintext)
			require.NoError(t, err)

			decrypted, err := v.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestVault_EmptyInputIdentity(t *testing.T) {
	v := newTestVault(t)

	ciphertext, err := v.Encrypt("")
	require.NoError(t, err)
	assert.Nil(t, ciphertext)

	plaintext, err := v.Decrypt(nil)
	require.NoError(t, err)
	assert.Equal(t, "", plaintext)
}

func TestVault_EncryptIsNonDeterministic(t *testing.T) {
	v := newTestVault(t)

	first, err := v.Encrypt("same value")
	require.NoError(t, err)
	second, err := v.Encrypt("same value")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, byte(1), first[0])
}

func TestVault_DecryptFailures(t *testing.T) {
	v := newTestVault(t)
	other, err := New([]Secret{{Version: 1, Value: []byte("a completely different passphrase")}}, 1, indexSecret, fastParams())
	require.NoError(t, err)

	valid, err := v.Encrypt("Jane Doe")
	require.NoError(t, err)

	corrupted := append([]byte(nil), valid...)
	corrupted[len(corrupted)-1] ^= 0xff

	unknownVersion := append([]byte(nil), valid...)
	unknownVersion[0] = 9

	tests := []struct {
		name       string
		vault      *Vault
		ciphertext []byte
		errMsg     string
	}{
		{name: "wrong key", vault: other, ciphertext: valid, errMsg: "failed to open payload"},
		{name: "corrupted payload", vault: v, ciphertext: corrupted, errMsg: "failed to open payload"},
		{name: "unknown version", vault: v, ciphertext: unknownVersion, errMsg: "no key material for version 9"},
		{name: "zero version", vault: v, ciphertext: []byte{0, 1, 2}, errMsg: "invalid version 0"},
		{name: "truncated", vault: v, ciphertext: valid[:5], errMsg: "invalid ciphertext size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext, err := tt.vault.Decrypt(tt.ciphertext)
			require.Error(t, err)
			assert.ErrorIs(t, err, gdprerr.ErrDecryption)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Empty(t, plaintext)
		})
	}
}

func TestVault_KeyRotationKeepsOldVersionsReadable(t *testing.T) {
	v1 := newTestVault(t)
	legacy, err := v1.Encrypt("legacy value")
	require.NoError(t, err)

	v2, err := New([]Secret{
		{Version: 1, Value: nativeSecret},
		{Version: 2, Value: []byte("rotated passphrase")},
	}, 2, indexSecret, fastParams())
	require.NoError(t, err)
	assert.Equal(t, 2, v2.KeyVersion())

	plaintext, err := v2.Decrypt(legacy)
	require.NoError(t, err)
	assert.Equal(t, "legacy value", plaintext)

	fresh, err := v2.Encrypt("fresh value")
	require.NoError(t, err)
	version, err := CiphertextVersion(fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = v1.Decrypt(fresh)
	assert.ErrorIs(t, err, gdprerr.ErrDecryption)
}

func TestNew_InvalidKeyring(t *testing.T) {
	tests := []struct {
		name    string
		keys    []Secret
		current int
		errMsg  string
	}{
		{name: "current missing", keys: []Secret{{Version: 1, Value: nativeSecret}}, current: 2, errMsg: "no key material for current version 2"},
		{name: "version out of range", keys: []Secret{{Version: 300, Value: nativeSecret}}, current: 1, errMsg: "key version must be between"},
		{name: "duplicate version", keys: []Secret{{Version: 1, Value: nativeSecret}, {Version: 1, Value: nativeSecret}}, current: 1, errMsg: "duplicate key version 1"},
		{name: "empty secret", keys: []Secret{{Version: 1}}, current: 1, errMsg: "secret for key version 1 is empty"},
		{name: "zero current", keys: []Secret{{Version: 1, Value: nativeSecret}}, current: 0, errMsg: "current key version must be between"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.keys, tt.current, indexSecret, fastParams())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDeriveKey(t *testing.T) {
	t.Run("native raw key is used as-is", func(t *testing.T) {
		key, err := DeriveKey(nativeSecret, 1, fastParams())
		require.NoError(t, err)
		assert.Equal(t, nativeSecret, key)
	})

	t.Run("native base64 key is decoded", func(t *testing.T) {
		encoded := base64.URLEncoding.EncodeToString(nativeSecret)
		key, err := DeriveKey([]byte(encoded), 1, fastParams())
		require.NoError(t, err)
		assert.Equal(t, nativeSecret, key)
	})

	t.Run("passphrase derivation is deterministic per version", func(t *testing.T) {
		first, err := DeriveKey([]byte("clinic passphrase"), 1, fastParams())
		require.NoError(t, err)
		again, err := DeriveKey([]byte("clinic passphrase"), 1, fastParams())
		require.NoError(t, err)
		nextVersion, err := DeriveKey([]byte("clinic passphrase"), 2, fastParams())
		require.NoError(t, err)

		assert.Len(t, first, KeySize)
		assert.Equal(t, first, again)
		assert.NotEqual(t, first, nextVersion)
	})

	t.Run("invalid params are reported per field", func(t *testing.T) {
		_, err := DeriveKey([]byte("clinic passphrase"), 1, &Argon2Params{Memory: 1, Iterations: 0, Parallelism: 1, SaltLength: 8})
		require.Error(t, err)

		var errs errsx.Map
		require.ErrorAs(t, err, &errs)
		assert.Contains(t, errs, "memory")
		assert.Contains(t, errs, "iterations")
		assert.Contains(t, errs, "saltLength")
	})
}

func TestMask(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		visibleTail int
		expected    string
	}{
		{name: "phone keeps tail", value: "010-1234-5678", visibleTail: 4, expected: "*********5678"},
		{name: "short value fully masked", value: "abc", visibleTail: 4, expected: "***"},
		{name: "equal length fully masked", value: "abcd", visibleTail: 4, expected: "****"},
		{name: "zero tail", value: "secret", visibleTail: 0, expected: "******"},
		{name: "negative tail", value: "secret", visibleTail: -1, expected: "******"},
		{name: "multibyte", value: "山田太郎", visibleTail: 1, expected: "***郎"},
		{name: "empty", value: "", visibleTail: 2, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Mask(tt.value, tt.visibleTail))
		})
	}
}

func TestVault_HashForIndex(t *testing.T) {
	v := newTestVault(t)

	hash := v.HashForIndex("Jane.Doe@example.com")
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, v.HashForIndex("  jane.doe@example.com "))
	assert.NotEqual(t, hash, v.HashForIndex("john.doe@example.com"))

	otherIndex, err := New([]Secret{{Version: 1, Value: nativeSecret}}, 1, []byte("another pepper"), fastParams())
	require.NoError(t, err)
	assert.NotEqual(t, hash, otherIndex.HashForIndex("jane.doe@example.com"))
}
