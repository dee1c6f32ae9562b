package gdprvault

// This file provides test utilities for callers and examples. None of it is
// meant for production key material.

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hengadev/gdprvault/internal/store"
)

// InMemorySecretStore implements SecretManagementService for testing.
//
// All data is lost when the process terminates.
//
// Usage:
//
//	secrets := gdprvault.NewInMemorySecretStore()
//	secrets.PutKey("patient-pii", 1, key)
//	secrets.PutIndexKey("patient-index", indexSecret)
type InMemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewInMemorySecretStore creates an empty in-memory secret store.
func NewInMemorySecretStore() *InMemorySecretStore {
	return &InMemorySecretStore{secrets: make(map[string][]byte)}
}

// Put stores a copy of value at path.
func (s *InMemorySecretStore) Put(path string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[path] = bytes.Clone(value)
}

// PutKey stores one version of a PII key under the path New reads it from.
func (s *InMemorySecretStore) PutKey(alias string, version int, value []byte) {
	s.Put(fmt.Sprintf(KeyPathTemplate, alias, version), value)
}

// PutIndexKey stores the hash-index secret under the path New reads it from.
func (s *InMemorySecretStore) PutIndexKey(alias string, value []byte) {
	s.Put(fmt.Sprintf(IndexKeyPathTemplate, alias), value)
}

// GetSecret returns a copy of the secret at path.
func (s *InMemorySecretStore) GetSecret(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.secrets[path]
	if !ok {
		return nil, fmt.Errorf("%w: secret %s", ErrNotFound, path)
	}
	return bytes.Clone(value), nil
}

// Test key material. Native 32-byte keys skip Argon2 derivation, which keeps tests fast.
const (
	TestKeyAlias      = "test-pii"
	TestIndexKeyAlias = "test-index"
)

var (
	TestKeyV1       = bytes.Repeat([]byte{0xA1}, 32)
	TestKeyV2       = bytes.Repeat([]byte{0xB2}, 32)
	TestIndexSecret = []byte("test-index-secret")
)

// NewTestSecretStore returns a store holding TestKeyV1, TestKeyV2 and TestIndexSecret.
func NewTestSecretStore() *InMemorySecretStore {
	s := NewInMemorySecretStore()
	s.PutKey(TestKeyAlias, 1, TestKeyV1)
	s.PutKey(TestKeyAlias, 2, TestKeyV2)
	s.PutIndexKey(TestIndexKeyAlias, TestIndexSecret)
	return s
}

// TestConfig returns a valid Config pointing at a sqlite file in dir, with key version 1 current.
func TestConfig(dir string) Config {
	return Config{
		KeyAlias:          TestKeyAlias,
		IndexKeyAlias:     TestIndexKeyAlias,
		KeyVersions:       []int{1},
		CurrentKeyVersion: 1,
		DBDialect:         string(store.SQLite),
		DBDSN:             filepath.Join(dir, "gdprvault-test.db"),
		LogLevel:          "error",
	}
}

// NewTestService builds a Service over a fresh sqlite database in t.TempDir() and
// closes it when the test ends. opts are applied after the test defaults.
func NewTestService(t testing.TB, opts ...Option) *Service {
	t.Helper()
	svc, err := New(context.Background(), TestConfig(t.TempDir()), NewTestSecretStore(), opts...)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}
