package fault

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/latticefault/partitionguard/internal/workerpool"
)

// phaseSequence is the forward path a successful recovery walks.
var phaseSequence = []RecoveryPhase{
	PhaseDetecting,
	PhaseRedistributing,
	PhaseRebalancing,
	PhaseValidating,
	PhaseComplete,
}

// Coordinator drives exactly one bound partition through the recovery
// phase sequence: ordering phases, invoking the registered strategy,
// broadcasting phase changes, retrying, and producing a RecoveryResult.
// It owns its own phase state and retry counter and borrows the
// classifier for status queries/updates; it is not safe to reuse a
// Coordinator across partitions.
type Coordinator struct {
	partition PartitionID

	phaseMu        sync.Mutex
	phase          RecoveryPhase
	retryCount     int
	transitionTime int64
	lastResult     RecoveryResult
	completed      bool

	clockMu sync.RWMutex
	clock   Clock

	listeners *broadcaster[RecoveryPhase]
	pool      *workerpool.Pool
	logger    *zap.Logger
	config    FaultConfiguration

	running atomic.Bool
}

// NewCoordinator builds a Coordinator bound to partition. A nil clock
// defaults to SystemClock{}; a nil logger defaults to a no-op logger.
// pool is the worker pool this coordinator's recoveries run on. A
// Classifier runs InitiateRecovery on a pool of its own that it does
// not expose, so coordinator-driven and classifier-driven recoveries
// are bounded by separate pools, not by one cluster-wide limit.
func NewCoordinator(partition PartitionID, cfg FaultConfiguration, clock Clock, pool *workerpool.Pool, logger *zap.Logger) *Coordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		partition: partition,
		phase:     PhaseIdle,
		clock:     clock,
		listeners: newBroadcaster[RecoveryPhase](logger),
		pool:      pool,
		logger:    logger,
		config:    cfg,
	}
}

// SetClock replaces the coordinator's clock. The next transition's
// state_transition_time uses the new clock.
func (c *Coordinator) SetClock(clock Clock) {
	if clock == nil {
		return
	}
	c.clockMu.Lock()
	c.clock = clock
	c.clockMu.Unlock()
}

func (c *Coordinator) now() int64 {
	c.clockMu.RLock()
	defer c.clockMu.RUnlock()
	return c.clock.NowMillis()
}

// CurrentPhase returns the coordinator's current RecoveryPhase.
func (c *Coordinator) CurrentPhase() RecoveryPhase {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	return c.phase
}

// RetryCount returns the number of times Retry has been called.
func (c *Coordinator) RetryCount() int {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	return c.retryCount
}

// StateTransitionTime returns the clock reading recorded at the last
// phase transition.
func (c *Coordinator) StateTransitionTime() int64 {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	return c.transitionTime
}

// Subscribe registers a listener invoked on every phase transition.
func (c *Coordinator) Subscribe(listener func(RecoveryPhase)) *Subscription {
	return c.listeners.subscribe(listener)
}

// Retry resets phase to IDLE and increments the retry counter. It is
// only valid from COMPLETE or FAILED.
func (c *Coordinator) Retry() error {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	if c.phase != PhaseComplete && c.phase != PhaseFailed {
		return fmt.Errorf("%w: retry is only valid from COMPLETE or FAILED, got %s", ErrInvalidPhaseTransition, c.phase)
	}
	c.phase = PhaseIdle
	c.retryCount++
	c.completed = false
	return nil
}

// Recover starts (or idempotently re-reports) a recovery attempt for
// partition against classifier. It returns immediately; the phase
// sequence runs on the coordinator's worker pool. Recover rejects a
// nil classifier and a partition that does not match the coordinator's
// bound partition, both synchronously via the returned error.
//
// Calling Recover again after a prior COMPLETE, without an intervening
// Retry, returns a success result with duration_ms = 0 and the
// previous attempts_needed; no phase transitions occur.
func (c *Coordinator) Recover(ctx context.Context, partition PartitionID, classifier *Classifier) (*future[RecoveryResult], error) {
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier", ErrNullArgument)
	}
	if partition != c.partition {
		return nil, fmt.Errorf("%w: got %s, bound to %s", ErrMismatch, partition, c.partition)
	}

	fut := newFuture[RecoveryResult]()

	c.phaseMu.Lock()
	if c.completed && c.phase == PhaseComplete {
		result := c.lastResult
		result.DurationMs = 0
		c.phaseMu.Unlock()
		fut.complete(result)
		return fut, nil
	}
	c.phaseMu.Unlock()

	c.running.Store(true)
	c.pool.Go(func() {
		result := c.runSequence(ctx, classifier)
		fut.complete(result)
	})

	return fut, nil
}

func (c *Coordinator) runSequence(ctx context.Context, classifier *Classifier) RecoveryResult {
	start := c.now()
	attemptsNeeded := c.RetryCount() + 1

	for _, phase := range phaseSequence {
		if err := c.transitionTo(phase); err != nil {
			return c.fail(classifier, attemptsNeeded, start, fmt.Sprintf("internal invariant violation: %v", err))
		}

		if phase == PhaseRedistributing {
			result, err := c.invokeStrategy(ctx, classifier)
			if err != nil || !result.Success {
				reason := result.FailureReason
				if err != nil {
					reason = err.Error()
				}
				return c.fail(classifier, attemptsNeeded, start, reason)
			}
		}
	}

	end := c.now()
	result := RecoveryResult{
		Partition:      c.partition,
		Success:        true,
		DurationMs:     end - start,
		AttemptsNeeded: attemptsNeeded,
		StatusMessage:  "recovery complete",
	}
	c.recordResult(result)
	classifier.NotifyRecoveryComplete(c.partition, true)
	return result
}

func (c *Coordinator) invokeStrategy(ctx context.Context, classifier *Classifier) (RecoveryResult, error) {
	e, ok := classifier.peek(c.partition)
	if !ok {
		return RecoveryResult{Success: true}, nil // no strategy registered on an unseen partition: no-op success
	}
	e.mu.Lock()
	strategy := e.strategy
	e.mu.Unlock()
	if strategy == nil {
		return RecoveryResult{Success: true}, nil
	}

	strategyCtx, cancel := c.strategyContext(ctx)
	defer cancel()
	fut, err := strategy.Recover(strategyCtx, c.partition, classifier)
	if err != nil {
		return RecoveryResult{}, err
	}
	return fut.Wait(strategyCtx)
}

func (c *Coordinator) strategyContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.config.RecoveryTimeoutMs <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, durationFromMs(c.config.RecoveryTimeoutMs))
}

func (c *Coordinator) fail(classifier *Classifier, attemptsNeeded int, start int64, reason string) RecoveryResult {
	_ = c.transitionTo(PhaseFailed)
	result := RecoveryResult{
		Partition:      c.partition,
		Success:        false,
		DurationMs:     c.now() - start,
		AttemptsNeeded: attemptsNeeded,
		StatusMessage:  "recovery failed",
		FailureReason:  reason,
	}
	c.recordResult(result)
	classifier.NotifyRecoveryComplete(c.partition, false)
	return result
}

func (c *Coordinator) recordResult(result RecoveryResult) {
	c.phaseMu.Lock()
	c.lastResult = result
	c.completed = true
	c.phaseMu.Unlock()
}

// transitionTo validates and commits a phase change, recording the
// transition time under the new clock and broadcasting it to
// listeners. Listener panics are recovered by the broadcaster and never
// interrupt the sequence.
func (c *Coordinator) transitionTo(next RecoveryPhase) error {
	c.phaseMu.Lock()
	from := c.phase
	if !CanTransition(from, next) {
		c.phaseMu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhaseTransition, from, next)
	}
	c.phase = next
	c.transitionTime = c.now()
	c.phaseMu.Unlock()

	c.logger.Info("recovery phase transition",
		zap.String("partition", c.partition.String()),
		zap.String("from", from.String()),
		zap.String("to", next.String()),
	)
	c.listeners.notify(next)
	return nil
}

// IsRunning reports whether Recover has been called on this
// coordinator at least once.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}
