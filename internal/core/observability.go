package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface the service writes to. Arguments
// are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus classifies an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntity names what an operation acted on.
type AuditEntity string

const (
	AuditEntityProtocol    AuditEntity = "protocol"
	AuditEntityCalculation AuditEntity = "calculation"
	AuditEntitySupply      AuditEntity = "supply"
)

// AuditAction names what an operation did.
type AuditAction string

const (
	ActionCreate    AuditAction = "create"
	ActionUpdate    AuditAction = "update"
	ActionValidate  AuditAction = "validate"
	ActionActivate  AuditAction = "activate"
	ActionComplete  AuditAction = "complete"
	ActionDelete    AuditAction = "delete"
	ActionRead      AuditAction = "read"
	ActionCalculate AuditAction = "calculate"
)

// AuditEntry is one audited service call. Version and ValidationHash are
// filled for protocol operations that reached a record.
type AuditEntry struct {
	Operation      string        `json:"operation"`
	Entity         AuditEntity   `json:"entity"`
	Action         AuditAction   `json:"action"`
	EntityID       string        `json:"entity_id,omitempty"`
	Version        int           `json:"version,omitempty"`
	ValidationHash string        `json:"validation_hash,omitempty"`
	Status         AuditStatus   `json:"status"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	Timestamp      time.Time     `json:"timestamp"`
}

// AuditRecorder persists audit entries. Implementations must not block.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reads the system
// clock; every result is normalized to UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}
