package gdprvault

import (
	"fmt"
	"time"

	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/internal/reliability"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/vault"
)

// Argon2Params tunes key derivation for secrets that are not native 32-byte keys.
type Argon2Params = vault.Argon2Params

// DefaultArgon2Params returns the derivation parameters used when none are given.
func DefaultArgon2Params() *Argon2Params { return vault.DefaultArgon2Params() }

// RetryConfig controls how secret retrieval is retried while building a Service.
type RetryConfig = reliability.RetryConfig

// DefaultRetryConfig returns the secret retrieval retry defaults.
func DefaultRetryConfig() RetryConfig { return reliability.DefaultRetryConfig() }

// settings collects what options can override. Zero values get defaults in New.
type settings struct {
	now          func() time.Time
	logger       Logger
	auditSink    AuditSink
	hook         ObservabilityHook
	metrics      MetricsCollector
	argon2Params *Argon2Params
	retry        RetryConfig
	store        *store.Store
	newID        func() string
}

// Option customises a Service built by New.
type Option func(*settings) error

// WithClock injects the notion of now used for retention, cooloff and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfiguration)
		}
		s.now = now
		return nil
	}
}

// WithLogger replaces the production logger.
func WithLogger(logger Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfiguration)
		}
		s.logger = logger
		return nil
	}
}

// WithAuditSink sends audit events to sink. Without it events go to the logger.
func WithAuditSink(sink AuditSink) Option {
	return func(s *settings) error {
		if sink == nil {
			return fmt.Errorf("%w: audit sink cannot be nil", ErrInvalidConfiguration)
		}
		s.auditSink = sink
		return nil
	}
}

// WithObservabilityHook observes every operation.
func WithObservabilityHook(hook ObservabilityHook) Option {
	return func(s *settings) error {
		s.hook = hook
		return nil
	}
}

// WithMetricsCollector records operation counters and timings in collector.
// It is combined with any hook given through WithObservabilityHook.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *settings) error {
		s.metrics = collector
		return nil
	}
}

// WithArgon2Params overrides key derivation parameters.
func WithArgon2Params(params *Argon2Params) Option {
	return func(s *settings) error {
		if params == nil {
			return fmt.Errorf("%w: argon2 parameters cannot be nil", ErrInvalidConfiguration)
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("validate Argon2Params: %w", err)
		}
		s.argon2Params = params
		return nil
	}
}

// WithRetryConfig overrides how secret retrieval is retried.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *settings) error {
		if cfg.MaxAttempts < 1 {
			return fmt.Errorf("%w: retry needs at least one attempt", ErrInvalidConfiguration)
		}
		s.retry = cfg
		return nil
	}
}

// withStore hands New an already opened store instead of opening Config.DBDSN.
func withStore(st *store.Store) Option {
	return func(s *settings) error {
		s.store = st
		return nil
	}
}

// withIDGenerator makes request ids predictable in tests.
func withIDGenerator(newID func() string) Option {
	return func(s *settings) error {
		s.newID = newID
		return nil
	}
}

func (s *settings) observabilityHook() ObservabilityHook {
	var hooks []ObservabilityHook
	if s.hook != nil {
		hooks = append(hooks, s.hook)
	}
	if s.metrics != nil {
		hooks = append(hooks, monitoring.NewMetricsObservabilityHook(s.metrics))
	}
	switch len(hooks) {
	case 0:
		return monitoring.NewLoggingObservabilityHook(s.logger)
	case 1:
		return hooks[0]
	default:
		return monitoring.NewCompositeObservabilityHook(hooks...)
	}
}
