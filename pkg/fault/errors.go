package fault

import "errors"

// Argument-level faults propagate synchronously to the caller. Every
// other error kind in the taxonomy (Paused, Timeout, UnknownPartition,
// StrategyFailure, InternalInvariant) is surfaced through return values
// — a failed RecoveryResult or a false boolean — never as a panic.
var (
	// ErrMismatch is returned when a partition argument does not match
	// a coordinator's bound partition.
	ErrMismatch = errors.New("fault: partition does not match coordinator binding")

	// ErrNullArgument is returned when a required argument is missing.
	ErrNullArgument = errors.New("fault: required argument is nil")

	// ErrPaused is returned by the tracker when begin() is rejected
	// because the tracker is paused for recovery.
	ErrPaused = errors.New("fault: tracker is paused")

	// ErrUnknownPartition is used internally when a strategy's
	// can_recover check rejects a partition the classifier has never
	// seen at all; it is surfaced to callers as a failed RecoveryResult's
	// FailureReason, not returned directly. A coordinator-driven recover
	// against an unseen partition with no registered strategy is a
	// separate case and is treated as a no-op success, per spec.
	ErrUnknownPartition = errors.New("fault: unknown partition")

	// ErrInvalidPhaseTransition marks an illegal RecoveryPhase
	// transition (InternalInvariant in the error taxonomy).
	ErrInvalidPhaseTransition = errors.New("fault: invalid recovery phase transition")

	// ErrInvalidConfiguration is returned by NewFaultConfiguration when
	// the compact constructor's invariants are violated.
	ErrInvalidConfiguration = errors.New("fault: invalid fault configuration")
)
