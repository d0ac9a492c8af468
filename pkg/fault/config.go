package fault

import "fmt"

// FaultConfiguration is an immutable record of tuning knobs. Values are
// copied, never mutated in place; builder-style With* methods return a
// new record and leave the receiver untouched. Construct one with
// DefaultFaultConfiguration and adjust it with the With* methods, or
// validate an arbitrary set of fields with NewFaultConfiguration.
type FaultConfiguration struct {
	// SuspectTimeoutMs is the symptom latency, in milliseconds, beyond
	// which a HEALTHY partition escalates to SUSPECTED. Zero disables
	// the latency-based escalation feature.
	SuspectTimeoutMs int64

	// FailureConfirmationMs is how long a partition may remain
	// SUSPECTED before escalating to FAILED. Zero disables the feature.
	FailureConfirmationMs int64

	// MaxRecoveryRetries bounds the number of recovery attempts before
	// giving up.
	MaxRecoveryRetries int

	// RecoveryTimeoutMs is the wall-clock budget for one recovery
	// invocation. Zero disables the timeout.
	RecoveryTimeoutMs int64

	// AutoRecoveryEnabled controls whether the classifier triggers
	// recovery automatically when a partition transitions to FAILED.
	AutoRecoveryEnabled bool

	// MaxConcurrentRecoveries upper-bounds the number of recoveries
	// in flight across the whole cluster at once. Must be >= 1.
	MaxConcurrentRecoveries int
}

// DefaultFaultConfiguration returns the documented defaults from the
// data model's configuration table.
func DefaultFaultConfiguration() FaultConfiguration {
	return FaultConfiguration{
		SuspectTimeoutMs:        3000,
		FailureConfirmationMs:   5000,
		MaxRecoveryRetries:      3,
		RecoveryTimeoutMs:       30000,
		AutoRecoveryEnabled:     true,
		MaxConcurrentRecoveries: 3,
	}
}

// NewFaultConfiguration validates cfg against the compact constructor's
// invariants: no *_ms field or retry/concurrency count may be negative
// (zero is allowed for *_ms fields, to disable the feature they guard),
// and MaxConcurrentRecoveries must be at least 1.
func NewFaultConfiguration(cfg FaultConfiguration) (FaultConfiguration, error) {
	if err := cfg.validate(); err != nil {
		return FaultConfiguration{}, err
	}
	return cfg, nil
}

func (c FaultConfiguration) validate() error {
	switch {
	case c.SuspectTimeoutMs < 0:
		return fmt.Errorf("%w: suspect_timeout_ms must not be negative", ErrInvalidConfiguration)
	case c.FailureConfirmationMs < 0:
		return fmt.Errorf("%w: failure_confirmation_ms must not be negative", ErrInvalidConfiguration)
	case c.MaxRecoveryRetries < 0:
		return fmt.Errorf("%w: max_recovery_retries must not be negative", ErrInvalidConfiguration)
	case c.RecoveryTimeoutMs < 0:
		return fmt.Errorf("%w: recovery_timeout_ms must not be negative", ErrInvalidConfiguration)
	case c.MaxConcurrentRecoveries < 1:
		return fmt.Errorf("%w: max_concurrent_recoveries must be >= 1", ErrInvalidConfiguration)
	}
	return nil
}

// WithSuspectTimeoutMs returns a copy of c with SuspectTimeoutMs
// replaced.
func (c FaultConfiguration) WithSuspectTimeoutMs(ms int64) (FaultConfiguration, error) {
	next := c
	next.SuspectTimeoutMs = ms
	return NewFaultConfiguration(next)
}

// WithFailureConfirmationMs returns a copy of c with FailureConfirmationMs
// replaced.
func (c FaultConfiguration) WithFailureConfirmationMs(ms int64) (FaultConfiguration, error) {
	next := c
	next.FailureConfirmationMs = ms
	return NewFaultConfiguration(next)
}

// WithMaxRecoveryRetries returns a copy of c with MaxRecoveryRetries
// replaced.
func (c FaultConfiguration) WithMaxRecoveryRetries(n int) (FaultConfiguration, error) {
	next := c
	next.MaxRecoveryRetries = n
	return NewFaultConfiguration(next)
}

// WithRecoveryTimeoutMs returns a copy of c with RecoveryTimeoutMs
// replaced.
func (c FaultConfiguration) WithRecoveryTimeoutMs(ms int64) (FaultConfiguration, error) {
	next := c
	next.RecoveryTimeoutMs = ms
	return NewFaultConfiguration(next)
}

// WithAutoRecoveryEnabled returns a copy of c with AutoRecoveryEnabled
// replaced.
func (c FaultConfiguration) WithAutoRecoveryEnabled(enabled bool) FaultConfiguration {
	next := c
	next.AutoRecoveryEnabled = enabled
	return next
}

// WithMaxConcurrentRecoveries returns a copy of c with
// MaxConcurrentRecoveries replaced.
func (c FaultConfiguration) WithMaxConcurrentRecoveries(n int) (FaultConfiguration, error) {
	next := c
	next.MaxConcurrentRecoveries = n
	return NewFaultConfiguration(next)
}
