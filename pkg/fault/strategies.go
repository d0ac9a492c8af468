package fault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RecoveryStrategy is the capability a partition registers with the
// classifier: recover does the work, can_recover is a fast eligibility
// check, and strategy_name/configuration identify and parameterize it.
// No-op, BarrierSyncStrategy, and CascadingStrategy are the three
// variants the data model names; callers may supply others.
type RecoveryStrategy interface {
	Recover(ctx context.Context, partition PartitionID, classifier *Classifier) (*future[RecoveryResult], error)
	CanRecover(partition PartitionID, classifier *Classifier) bool
	StrategyName() string
	Configuration() FaultConfiguration
}

// NoopStrategy returns success immediately. It is the baseline strategy
// and a seam for tests that want recovery plumbing without real work.
type NoopStrategy struct {
	config FaultConfiguration
}

// NewNoopStrategy builds a NoopStrategy.
func NewNoopStrategy(cfg FaultConfiguration) *NoopStrategy {
	return &NoopStrategy{config: cfg}
}

// Recover implements RecoveryStrategy.
func (s *NoopStrategy) Recover(_ context.Context, partition PartitionID, _ *Classifier) (*future[RecoveryResult], error) {
	fut := newFuture[RecoveryResult]()
	fut.complete(RecoveryResult{
		Partition:      partition,
		Success:        true,
		AttemptsNeeded: 1,
		StrategyName:   s.StrategyName(),
		StatusMessage:  "no-op recovery",
	})
	return fut, nil
}

// CanRecover implements RecoveryStrategy; the no-op strategy can always
// run.
func (s *NoopStrategy) CanRecover(PartitionID, *Classifier) bool { return true }

// StrategyName implements RecoveryStrategy.
func (s *NoopStrategy) StrategyName() string { return "no-op" }

// Configuration implements RecoveryStrategy.
func (s *NoopStrategy) Configuration() FaultConfiguration { return s.config }

var defaultNoopStrategy = NewNoopStrategy(DefaultFaultConfiguration())

// BarrierSyncStrategy validates the partition is SUSPECTED or FAILED,
// performs a logical barrier synchronization against the topology
// registry, then verifies responsiveness by marking the partition
// HEALTHY and reading its status back. It retries up to
// config.MaxRecoveryRetries times with exponential backoff starting at
// 100ms and doubling.
type BarrierSyncStrategy struct {
	config    FaultConfiguration
	topology  TopologyRegistry
	clock     Clock
	observers *RecoveryObservers
	logger    *zap.Logger
}

// NewBarrierSyncStrategy builds a BarrierSyncStrategy. topology and
// observers may be nil (a nil topology treats every partition as
// synchronizable; a nil observers set publishes nothing). A nil clock
// defaults to SystemClock{}; a nil logger defaults to a no-op logger.
func NewBarrierSyncStrategy(cfg FaultConfiguration, topology TopologyRegistry, clock Clock, observers *RecoveryObservers, logger *zap.Logger) *BarrierSyncStrategy {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BarrierSyncStrategy{config: cfg, topology: topology, clock: clock, observers: observers, logger: logger}
}

// StrategyName implements RecoveryStrategy.
func (s *BarrierSyncStrategy) StrategyName() string { return "barrier-sync" }

// Configuration implements RecoveryStrategy.
func (s *BarrierSyncStrategy) Configuration() FaultConfiguration { return s.config }

// CanRecover implements RecoveryStrategy.
func (s *BarrierSyncStrategy) CanRecover(partition PartitionID, classifier *Classifier) bool {
	status := classifier.CheckHealth(partition)
	return status == StatusSuspected || status == StatusFailed
}

// Recover implements RecoveryStrategy. The work runs synchronously on
// the calling goroutine (already off-thread, since the coordinator and
// classifier only ever invoke strategies from their worker pool); the
// returned future is already completed by the time Recover returns.
func (s *BarrierSyncStrategy) Recover(ctx context.Context, partition PartitionID, classifier *Classifier) (*future[RecoveryResult], error) {
	fut := newFuture[RecoveryResult]()
	start := s.clock.NowMillis()

	if !s.CanRecover(partition, classifier) {
		reason := "partition is not SUSPECTED or FAILED"
		if _, ok := classifier.peek(partition); !ok {
			reason = ErrUnknownPartition.Error()
		}
		fut.complete(RecoveryResult{
			Partition:     partition,
			Success:       false,
			StrategyName:  s.StrategyName(),
			FailureReason: reason,
		})
		return fut, nil
	}

	s.publishEvent(partition, RecoveryEventStarted, "barrier-sync recovery started")

	maxAttempts := s.config.MaxRecoveryRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = 100 * time.Millisecond
	backoffPolicy.Multiplier = 2
	backoffPolicy.RandomizationFactor = 0
	backoffPolicy.MaxElapsedTime = 0 // bounded by attempt count, not elapsed time
	backoffPolicy.Reset()            // restart from InitialInterval now that it is 100ms

	var lastReason string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			fut.complete(s.timeoutResult(partition, attempt, start, err))
			return fut, nil
		}

		s.publishProgress(partition, "barrier", percentComplete(attempt, maxAttempts), s.clock.NowMillis()-start,
			fmt.Sprintf("barrier synchronization attempt %d/%d", attempt, maxAttempts))
		s.publishEvent(partition, RecoveryEventBarrier, "performing logical barrier synchronization")

		if s.synchronizeBarrier(partition) {
			classifier.MarkHealthy(partition)
			s.publishEvent(partition, RecoveryEventVerification, "verifying responsiveness")
			if classifier.CheckHealth(partition) == StatusHealthy {
				s.publishEvent(partition, RecoveryEventCompleted, "barrier-sync recovery complete")
				fut.complete(RecoveryResult{
					Partition:      partition,
					Success:        true,
					DurationMs:     s.clock.NowMillis() - start,
					StrategyName:   s.StrategyName(),
					AttemptsNeeded: attempt,
					StatusMessage:  "barrier synchronized",
				})
				return fut, nil
			}
		}

		lastReason = "barrier synchronization did not converge"
		wait := backoffPolicy.NextBackOff()
		if wait == backoff.Stop || attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			fut.complete(s.timeoutResult(partition, attempt, start, ctx.Err()))
			return fut, nil
		}
		timer.Stop()
	}

	s.publishEvent(partition, RecoveryEventFailed, lastReason)
	fut.complete(RecoveryResult{
		Partition:      partition,
		Success:        false,
		DurationMs:     s.clock.NowMillis() - start,
		StrategyName:   s.StrategyName(),
		AttemptsNeeded: maxAttempts,
		StatusMessage:  "barrier-sync recovery failed",
		FailureReason:  lastReason,
	})
	return fut, nil
}

func (s *BarrierSyncStrategy) timeoutResult(partition PartitionID, attempt int, start int64, cause error) RecoveryResult {
	return RecoveryResult{
		Partition:      partition,
		Success:        false,
		DurationMs:     s.clock.NowMillis() - start,
		StrategyName:   s.StrategyName(),
		AttemptsNeeded: attempt,
		StatusMessage:  "barrier-sync recovery timed out",
		FailureReason:  cause.Error(),
	}
}

// synchronizeBarrier simulates a logical barrier across the partition's
// nodes. Real node communication is an external collaborator's concern
// (no wire transport in scope); a partition the topology registry has
// no rank for is treated as unreachable, which is how tests drive
// retry/backoff behavior deterministically.
func (s *BarrierSyncStrategy) synchronizeBarrier(partition PartitionID) bool {
	if s.topology == nil {
		return true
	}
	_, ok := s.topology.RankFor(partition)
	return ok
}

func (s *BarrierSyncStrategy) publishEvent(partition PartitionID, kind RecoveryEventType, details string) {
	if s.observers == nil {
		return
	}
	s.observers.publishEvent(RecoveryEvent{Partition: partition, EventType: kind, Details: details, TimestampMs: s.clock.NowMillis()})
}

func (s *BarrierSyncStrategy) publishProgress(partition PartitionID, label string, percent int, elapsedMs int64, message string) {
	if s.observers == nil {
		return
	}
	s.observers.publishProgress(RecoveryProgress{Partition: partition, PhaseLabel: label, Percent: percent, ElapsedMs: elapsedMs, Message: message})
}

func percentComplete(attempt, maxAttempts int) int {
	if maxAttempts <= 0 {
		return 100
	}
	pct := attempt * 100 / maxAttempts
	if pct > 100 {
		return 100
	}
	return pct
}

// CascadingStrategy recovers a primary partition together with its
// declared dependents concurrently. A partial failure (some dependents
// recover, others don't) is reported as an overall failure carrying a
// per-dependent diagnostic.
type CascadingStrategy struct {
	config    FaultConfiguration
	graph     DependencyGraph
	delegate  RecoveryStrategy
	clock     Clock
	observers *RecoveryObservers
	logger    *zap.Logger
}

// NewCascadingStrategy builds a CascadingStrategy. delegate is the
// strategy applied to the primary partition and each dependent; a nil
// delegate defaults to a no-op strategy. A nil graph treats every
// partition as dependent-free.
func NewCascadingStrategy(cfg FaultConfiguration, graph DependencyGraph, delegate RecoveryStrategy, clock Clock, observers *RecoveryObservers, logger *zap.Logger) *CascadingStrategy {
	if delegate == nil {
		delegate = defaultNoopStrategy
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadingStrategy{config: cfg, graph: graph, delegate: delegate, clock: clock, observers: observers, logger: logger}
}

// StrategyName implements RecoveryStrategy.
func (s *CascadingStrategy) StrategyName() string { return "cascading" }

// Configuration implements RecoveryStrategy.
func (s *CascadingStrategy) Configuration() FaultConfiguration { return s.config }

// CanRecover implements RecoveryStrategy.
func (s *CascadingStrategy) CanRecover(partition PartitionID, classifier *Classifier) bool {
	status := classifier.CheckHealth(partition)
	return status == StatusSuspected || status == StatusFailed
}

// Recover implements RecoveryStrategy.
func (s *CascadingStrategy) Recover(ctx context.Context, partition PartitionID, classifier *Classifier) (*future[RecoveryResult], error) {
	fut := newFuture[RecoveryResult]()
	start := s.clock.NowMillis()
	s.publishEvent(partition, RecoveryEventStarted, "cascading recovery started")

	var dependents []PartitionID
	if s.graph != nil {
		dependents = s.graph.DependentsOf(partition)
	}
	targets := append([]PartitionID{partition}, dependents...)
	results := make([]RecoveryResult, len(targets))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		group.Go(func() error {
			results[i] = s.recoverOne(groupCtx, target, classifier)
			return nil // partial failures are collected, not propagated as group errors
		})
	}
	_ = group.Wait()

	var diagnostics []string
	for i, result := range results {
		if result.Success {
			continue
		}
		diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", targets[i], result.FailureReason))
	}

	success := len(diagnostics) == 0
	reason := strings.Join(diagnostics, "; ")
	if success {
		s.publishEvent(partition, RecoveryEventCompleted, "cascading recovery complete")
	} else {
		s.publishEvent(partition, RecoveryEventFailed, reason)
	}

	fut.complete(RecoveryResult{
		Partition:      partition,
		Success:        success,
		DurationMs:     s.clock.NowMillis() - start,
		StrategyName:   s.StrategyName(),
		AttemptsNeeded: 1,
		StatusMessage:  "cascading recovery",
		FailureReason:  reason,
	})
	return fut, nil
}

func (s *CascadingStrategy) recoverOne(ctx context.Context, target PartitionID, classifier *Classifier) RecoveryResult {
	strategyFut, err := s.delegate.Recover(ctx, target, classifier)
	if err != nil {
		return RecoveryResult{Partition: target, Success: false, FailureReason: err.Error()}
	}
	result, waitErr := strategyFut.Wait(ctx)
	if waitErr != nil {
		return RecoveryResult{Partition: target, Success: false, FailureReason: waitErr.Error()}
	}
	return result
}

func (s *CascadingStrategy) publishEvent(partition PartitionID, kind RecoveryEventType, details string) {
	if s.observers == nil {
		return
	}
	s.observers.publishEvent(RecoveryEvent{Partition: partition, EventType: kind, Details: details, TimestampMs: s.clock.NowMillis()})
}
