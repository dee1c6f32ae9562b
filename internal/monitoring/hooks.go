package monitoring

import (
	"context"
	"time"
)

// ObservabilityHook receives lifecycle operations as they run.
type ObservabilityHook interface {
	// Called before an operation touches the store
	OnOperationStart(ctx context.Context, operation string, metadata map[string]any)

	// Called after the operation commits or fails
	OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any)
}

// NoOpObservabilityHook is a no-op implementation of ObservabilityHook
type NoOpObservabilityHook struct{}

func (NoOpObservabilityHook) OnOperationStart(ctx context.Context, operation string, metadata map[string]any) {
}
func (NoOpObservabilityHook) OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
}

// LoggingObservabilityHook logs every operation
type LoggingObservabilityHook struct {
	logger Logger
}

// NewLoggingObservabilityHook creates a new logging observability hook
func NewLoggingObservabilityHook(logger Logger) *LoggingObservabilityHook {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return &LoggingObservabilityHook{logger: logger}
}

func (l *LoggingObservabilityHook) OnOperationStart(ctx context.Context, operation string, metadata map[string]any) {
	l.logger.Debug("operation started", append([]any{"operation", operation}, flatten(metadata)...)...)
}

func (l *LoggingObservabilityHook) OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
	args := append([]any{"operation", operation, "duration_ms", duration.Milliseconds()}, flatten(metadata)...)
	if err != nil {
		l.logger.Error("operation failed", append(args, "error", err)...)
		return
	}
	l.logger.Info("operation completed", args...)
}

// MetricsObservabilityHook counts operations and records their latency
type MetricsObservabilityHook struct {
	collector MetricsCollector
}

// NewMetricsObservabilityHook creates a new metrics observability hook
func NewMetricsObservabilityHook(collector MetricsCollector) *MetricsObservabilityHook {
	if collector == nil {
		collector = NoOpMetricsCollector{}
	}
	return &MetricsObservabilityHook{collector: collector}
}

func (m *MetricsObservabilityHook) OnOperationStart(ctx context.Context, operation string, metadata map[string]any) {
	m.collector.IncrementCounter("gdpr.operation.started", map[string]string{"operation": operation})
}

func (m *MetricsObservabilityHook) OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
	tags := map[string]string{"operation": operation, "status": "success"}
	if err != nil {
		tags["status"] = "error"
	}
	m.collector.IncrementCounter("gdpr.operation.completed", tags)
	m.collector.RecordTiming("gdpr.operation.duration", duration, map[string]string{"operation": operation})
}

// CompositeObservabilityHook fans out to several hooks
type CompositeObservabilityHook struct {
	hooks []ObservabilityHook
}

// NewCompositeObservabilityHook creates a new composite hook
func NewCompositeObservabilityHook(hooks ...ObservabilityHook) *CompositeObservabilityHook {
	return &CompositeObservabilityHook{hooks: hooks}
}

func (c *CompositeObservabilityHook) OnOperationStart(ctx context.Context, operation string, metadata map[string]any) {
	for _, hook := range c.hooks {
		hook.OnOperationStart(ctx, operation, metadata)
	}
}

func (c *CompositeObservabilityHook) OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
	for _, hook := range c.hooks {
		hook.OnOperationComplete(ctx, operation, duration, err, metadata)
	}
}

// Track calls the start hook and returns a function that reports completion.
//
//	done := monitoring.Track(ctx, hook, "erasure.file", meta)
//	defer func() { done(err) }()
func Track(ctx context.Context, hook ObservabilityHook, operation string, metadata map[string]any) func(error) {
	if hook == nil {
		return func(error) {}
	}
	start := time.Now()
	hook.OnOperationStart(ctx, operation, metadata)
	return func(err error) {
		hook.OnOperationComplete(ctx, operation, time.Since(start), err, metadata)
	}
}

func flatten(metadata map[string]any) []any {
	args := make([]any, 0, len(metadata)*2)
	for k, v := range metadata {
		args = append(args, k, v)
	}
	return args
}
