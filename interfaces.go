package gdprvault

import (
	"context"

	"github.com/hengadev/gdprvault/internal/audit"
	"github.com/hengadev/gdprvault/internal/monitoring"
)

// SecretManagementService retrieves key material by storage path.
//
// Implementations:
//   - HashiCorp Vault KV v2: github.com/hengadev/gdprvault/providers/secrets/hashicorp.KVStore
//   - AWS KMS wrapped secrets: github.com/hengadev/gdprvault/providers/secrets/awskms.SecretStore
//   - In-memory (testing): gdprvault.InMemorySecretStore
//
// Paths are built from KeyPathTemplate and IndexKeyPathTemplate; each implementation
// maps them onto its own storage layout.
type SecretManagementService interface {
	// GetSecret returns the raw secret stored at path. An unreachable store should
	// wrap ErrSecretUnavailable so New can retry it.
	GetSecret(ctx context.Context, path string) ([]byte, error)
}

// AuditSink receives one event per ledger transition and per identity decrypt.
// Failures are logged and never fail the operation that produced the event.
type AuditSink = audit.Sink

// AuditEvent is what an AuditSink receives.
type AuditEvent = audit.Event

// Logger is the structured logger every component writes to.
type Logger = monitoring.Logger

// ObservabilityHook observes the start and end of every operation.
type ObservabilityHook = monitoring.ObservabilityHook

// MetricsCollector receives operation counters and timings.
type MetricsCollector = monitoring.MetricsCollector
