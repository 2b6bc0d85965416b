package guard

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so decisions are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Logger provides structured logging for the core.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards all output.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// Metrics receives counters and timings from the core.
type Metrics interface {
	ObserveResolution(kind OperationKind, r Resolution)
	ObserveBackup(d time.Duration, err error)
	SetQueueDepth(n int)
	IncDropped()
	AddEvicted(n int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveResolution(OperationKind, Resolution) {}
func (NopMetrics) ObserveBackup(time.Duration, error)          {}
func (NopMetrics) SetQueueDepth(int)                           {}
func (NopMetrics) IncDropped()                                 {}
func (NopMetrics) AddEvicted(int)                              {}
