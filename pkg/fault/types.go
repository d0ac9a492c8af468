package fault

import (
	"fmt"

	"github.com/google/uuid"
)

// PartitionID is an opaque, globally unique, immutable identifier for a
// cluster partition. It is backed by a 128-bit UUID, the natural Go
// representation of the data model's "opaque 128-bit identifier".
type PartitionID uuid.UUID

// NewPartitionID generates a new random PartitionID.
func NewPartitionID() PartitionID {
	return PartitionID(uuid.New())
}

// ParsePartitionID parses a canonical UUID string into a PartitionID.
func ParsePartitionID(s string) (PartitionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PartitionID{}, fmt.Errorf("fault: invalid partition id %q: %w", s, err)
	}
	return PartitionID(id), nil
}

// String returns the canonical UUID representation.
func (p PartitionID) String() string {
	return uuid.UUID(p).String()
}

// PartitionStatus is the closed set of health states a partition may be
// in. Every registered partition has exactly one current status at any
// time; transitions are total (any status may be overwritten).
type PartitionStatus int

const (
	// StatusHealthy is the default status for any partition, including
	// ones the classifier has never observed.
	StatusHealthy PartitionStatus = iota
	// StatusSuspected indicates a single symptom has been reported
	// against a previously healthy partition.
	StatusSuspected
	// StatusFailed indicates a symptom was reported against a partition
	// that was already suspected or failed.
	StatusFailed
	// StatusRecovering indicates the coordinator has taken the
	// partition out of rotation and is running its recovery phases.
	StatusRecovering
)

// String renders the status the way logs and test failures expect.
func (s PartitionStatus) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusSuspected:
		return "SUSPECTED"
	case StatusFailed:
		return "FAILED"
	case StatusRecovering:
		return "RECOVERING"
	default:
		return "UNKNOWN"
	}
}

// FaultEventKind discriminates the three cases of PartitionFaultEvent.
type FaultEventKind int

const (
	// EventSuspected corresponds to PartitionFaultEvent::Suspected.
	EventSuspected FaultEventKind = iota
	// EventFailed corresponds to PartitionFaultEvent::Failed.
	EventFailed
	// EventRecovered corresponds to PartitionFaultEvent::Recovered.
	EventRecovered
)

func (k FaultEventKind) String() string {
	switch k {
	case EventSuspected:
		return "SUSPECTED"
	case EventFailed:
		return "FAILED"
	case EventRecovered:
		return "RECOVERED"
	default:
		return "UNKNOWN"
	}
}

// FaultEvent is the tagged PartitionFaultEvent variant from the data
// model: Suspected{partition, timestamp_ms, reason}, Failed{same}, or
// Recovered{partition, timestamp_ms}. Reason is empty for EventRecovered.
type FaultEvent struct {
	Kind        FaultEventKind
	Partition   PartitionID
	TimestampMs int64
	Reason      string
}

// ChangeEvent is emitted by the classifier on every non-identity status
// transition for a partition.
type ChangeEvent struct {
	Partition   PartitionID
	OldStatus   PartitionStatus
	NewStatus   PartitionStatus
	TimestampMs int64
	Reason      string
}

// RecoveryPhase is the ordered recovery state machine. IDLE, COMPLETE,
// and FAILED are terminal with respect to forward progress: COMPLETE and
// FAILED may only move on via an explicit retry back to IDLE.
type RecoveryPhase int

const (
	PhaseIdle RecoveryPhase = iota
	PhaseDetecting
	PhaseRedistributing
	PhaseRebalancing
	PhaseValidating
	PhaseComplete
	PhaseFailed
)

func (p RecoveryPhase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseDetecting:
		return "DETECTING"
	case PhaseRedistributing:
		return "REDISTRIBUTING"
	case PhaseRebalancing:
		return "REBALANCING"
	case PhaseValidating:
		return "VALIDATING"
	case PhaseComplete:
		return "COMPLETE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the phase ends a recovery attempt without a
// retry.
func (p RecoveryPhase) IsTerminal() bool {
	switch p {
	case PhaseIdle, PhaseComplete, PhaseFailed:
		return true
	default:
		return false
	}
}

// isActive reports whether the phase is one of the in-progress phases
// that may transition to FAILED.
func (p RecoveryPhase) isActive() bool {
	switch p {
	case PhaseDetecting, PhaseRedistributing, PhaseRebalancing, PhaseValidating:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from "from" to "to" is a valid
// RecoveryPhase transition per the state table in the data model.
func CanTransition(from, to RecoveryPhase) bool {
	if from == to {
		return false
	}
	switch {
	case from == PhaseIdle && to == PhaseDetecting:
		return true
	case from.isActive() && to == PhaseFailed:
		return true
	case from == PhaseDetecting && to == PhaseRedistributing:
		return true
	case from == PhaseRedistributing && to == PhaseRebalancing:
		return true
	case from == PhaseRebalancing && to == PhaseValidating:
		return true
	case from == PhaseValidating && to == PhaseComplete:
		return true
	case from == PhaseComplete && to == PhaseIdle:
		return true
	case from == PhaseFailed && to == PhaseIdle:
		return true
	default:
		return false
	}
}

// RecoveryResult is the outcome of one recovery attempt.
type RecoveryResult struct {
	Partition      PartitionID
	Success        bool
	DurationMs     int64
	StrategyName   string
	AttemptsNeeded int
	StatusMessage  string
	FailureReason  string
}

// PartitionView is a read-only snapshot of a partition's observable
// state, materialized on demand by the classifier.
type PartitionView struct {
	Partition        PartitionID
	Status           PartitionStatus
	LastSeenMs       int64
	NodeCount        int
	HealthyNodeCount int
	Metrics          FaultMetrics
}
