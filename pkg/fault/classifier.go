package fault

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/latticefault/partitionguard/internal/workerpool"
)

// RecoveryFuture is returned by InitiateRecovery; callers await it with
// Wait(ctx) rather than blocking the call itself.
type RecoveryFuture = future[bool]

// partitionEntry holds one partition's mutable state behind its own
// lock, so transitions for different partitions never contend with one
// another; only concurrent transitions for the *same* partition are
// linearized.
type partitionEntry struct {
	mu          sync.Mutex
	status      PartitionStatus
	lastSeenMs  int64
	strategy    RecoveryStrategy
	events      []FaultEvent
	nodes       map[string]struct{}
	failedNodes map[string]struct{}
}

// Classifier is the fault-detection state machine described as
// "FaultHandler" in the design: it owns per-partition PartitionStatus,
// publishes PartitionChangeEvents to subscribers, and accepts recovery
// strategy registrations. It is constructed once at subsystem start and
// torn down at stop; there is no process-wide singleton.
type Classifier struct {
	mu      sync.RWMutex
	entries map[PartitionID]*partitionEntry

	config    FaultConfiguration
	clock     Clock
	listeners *broadcaster[ChangeEvent]
	metrics   *metricsStore
	pool      *workerpool.Pool
	logger    *zap.Logger
	running   atomic.Bool
}

// NewClassifier constructs a Classifier. A nil clock defaults to
// SystemClock{}; a nil logger defaults to a no-op logger.
func NewClassifier(cfg FaultConfiguration, clock Clock, logger *zap.Logger) *Classifier {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		entries:   make(map[PartitionID]*partitionEntry),
		config:    cfg,
		clock:     clock,
		listeners: newBroadcaster[ChangeEvent](logger),
		metrics:   newMetricsStore(),
		pool:      workerpool.New(cfg.MaxConcurrentRecoveries),
		logger:    logger,
	}
}

// Start marks the classifier running. It is idempotent.
func (c *Classifier) Start() {
	c.running.Store(true)
}

// Stop waits for any in-flight recoveries to finish and marks the
// classifier stopped.
func (c *Classifier) Stop() {
	c.pool.Wait()
	c.running.Store(false)
}

// IsRunning reports whether Start has been called without a matching
// Stop.
func (c *Classifier) IsRunning() bool {
	return c.running.Load()
}

func (c *Classifier) getOrCreate(id PartitionID) *partitionEntry {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[id]; ok {
		return e
	}
	e = &partitionEntry{
		status:      StatusHealthy,
		nodes:       make(map[string]struct{}),
		failedNodes: make(map[string]struct{}),
	}
	c.entries[id] = e
	return e
}

func (c *Classifier) peek(id PartitionID) (*partitionEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// CheckHealth returns HEALTHY for any partition the classifier has not
// yet observed a transition for.
func (c *Classifier) CheckHealth(id PartitionID) PartitionStatus {
	e, ok := c.peek(id)
	if !ok {
		return StatusHealthy
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// View materializes a read-only snapshot of a partition's state.
func (c *Classifier) View(id PartitionID) PartitionView {
	e, ok := c.peek(id)
	if !ok {
		return PartitionView{Partition: id, Status: StatusHealthy, Metrics: c.metrics.get(id)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return PartitionView{
		Partition:        id,
		Status:           e.status,
		LastSeenMs:       e.lastSeenMs,
		NodeCount:        len(e.nodes),
		HealthyNodeCount: len(e.nodes) - len(e.failedNodes),
		Metrics:          c.metrics.get(id),
	}
}

// Subscribe registers a listener invoked on every transition. The
// returned Subscription's Release removes it. Subscriber list mutation
// is safe concurrent with event delivery.
func (c *Classifier) Subscribe(listener func(ChangeEvent)) *Subscription {
	return c.listeners.subscribe(listener)
}

// RegisterRecovery attaches a recovery strategy to a partition.
func (c *Classifier) RegisterRecovery(id PartitionID, strategy RecoveryStrategy) {
	e := c.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy = strategy
}

// MarkHealthy transitions a partition to HEALTHY with reason "marked
// healthy". A partition already HEALTHY emits no event.
func (c *Classifier) MarkHealthy(id PartitionID) {
	c.applyTransition(id, "marked healthy", func(PartitionStatus) PartitionStatus {
		return StatusHealthy
	})
}

// ReportBarrierTimeout reports a barrier-timeout symptom.
func (c *Classifier) ReportBarrierTimeout(id PartitionID) {
	c.reportSymptom(id, "barrier timeout")
}

// ReportSyncFailure reports a ghost/balance sync-failure symptom.
func (c *Classifier) ReportSyncFailure(id PartitionID) {
	c.reportSymptom(id, "sync failure")
}

// ReportHeartbeatFailure reports a missed heartbeat from a specific
// node within the partition.
func (c *Classifier) ReportHeartbeatFailure(id PartitionID, node string) {
	e := c.getOrCreate(id)
	e.mu.Lock()
	e.nodes[node] = struct{}{}
	e.failedNodes[node] = struct{}{}
	e.mu.Unlock()

	c.reportSymptom(id, fmt.Sprintf("heartbeat failure: node %s", node))
}

// reportSymptom applies the symptom escalation rule: HEALTHY ->
// SUSPECTED, SUSPECTED -> FAILED, FAILED/RECOVERING unchanged (no
// event). A fresh transition into FAILED triggers auto-recovery if
// enabled and a strategy is registered.
func (c *Classifier) reportSymptom(id PartitionID, reason string) {
	emitted, old, newStatus := c.applyTransition(id, reason, func(old PartitionStatus) PartitionStatus {
		switch old {
		case StatusHealthy:
			return StatusSuspected
		case StatusSuspected:
			return StatusFailed
		default:
			return old
		}
	})

	if emitted && newStatus == StatusFailed && old != StatusFailed && c.config.AutoRecoveryEnabled {
		c.tryAutoRecover(id)
	}
}

func (c *Classifier) tryAutoRecover(id PartitionID) {
	e, ok := c.peek(id)
	if !ok {
		return
	}
	e.mu.Lock()
	hasStrategy := e.strategy != nil
	e.mu.Unlock()
	if !hasStrategy {
		return
	}
	c.InitiateRecovery(context.Background(), id)
}

// InitiateRecovery transitions the partition to RECOVERING and runs the
// registered strategy (if any) on the classifier's bounded worker pool,
// returning a future the caller may await. If no strategy is
// registered the recovery is treated as an immediate no-op success, the
// same rule the recovery coordinator applies.
func (c *Classifier) InitiateRecovery(ctx context.Context, id PartitionID) *RecoveryFuture {
	fut := newFuture[bool]()

	e := c.getOrCreate(id)
	e.mu.Lock()
	strategy := e.strategy
	e.mu.Unlock()

	c.applyTransition(id, "recovery started", func(PartitionStatus) PartitionStatus {
		return StatusRecovering
	})
	c.metrics.merge(id, FaultMetrics{RecoveryAttempts: 1})

	c.pool.Go(func() {
		ok := true
		if strategy != nil {
			strategyFut, err := strategy.Recover(ctx, id, c)
			if err != nil {
				ok = false
			} else {
				result, waitErr := strategyFut.Wait(ctx)
				ok = waitErr == nil && result.Success
			}
		}
		c.NotifyRecoveryComplete(id, ok)
		fut.complete(ok)
	})

	return fut
}

// NotifyRecoveryComplete transitions the partition to HEALTHY (success)
// or FAILED (failure) and updates aggregate metrics accordingly.
func (c *Classifier) NotifyRecoveryComplete(id PartitionID, success bool) {
	next := StatusFailed
	if success {
		next = StatusHealthy
	}
	reason := "recovery failed"
	if success {
		reason = "recovery complete"
	}

	c.applyTransition(id, reason, func(PartitionStatus) PartitionStatus {
		return next
	})

	if success {
		c.metrics.merge(id, FaultMetrics{SuccessfulRecoveries: 1})
	} else {
		c.metrics.merge(id, FaultMetrics{FailedRecoveries: 1})
	}
}

// Metrics returns the aggregate counters recorded for a single
// partition.
func (c *Classifier) Metrics(id PartitionID) FaultMetrics {
	return c.metrics.get(id)
}

// AggregateMetrics combines every partition's FaultMetrics.
func (c *Classifier) AggregateMetrics() FaultMetrics {
	return c.metrics.aggregate()
}

// applyTransition is the single place status changes happen. compute
// receives the current status and returns the next one; if they are
// equal no event is emitted (the identity-transition invariant) and no
// FaultEvent/metric bookkeeping occurs. The transition, its fault-event
// bookkeeping, and listener notification all happen while the
// partition's lock is held, which is what linearizes per-partition
// event order against per-partition transition order.
func (c *Classifier) applyTransition(id PartitionID, reason string, compute func(old PartitionStatus) PartitionStatus) (emitted bool, old, newStatus PartitionStatus) {
	e := c.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	old = e.status
	now := c.clock.NowMillis()
	e.lastSeenMs = now
	newStatus = compute(old)
	if old == newStatus {
		return false, old, newStatus
	}
	e.status = newStatus

	switch {
	case newStatus == StatusSuspected:
		e.events = append(e.events, FaultEvent{Kind: EventSuspected, Partition: id, TimestampMs: now, Reason: reason})
	case newStatus == StatusFailed:
		e.events = append(e.events, FaultEvent{Kind: EventFailed, Partition: id, TimestampMs: now, Reason: reason})
		c.metrics.merge(id, FaultMetrics{FailureCount: 1})
	case newStatus == StatusHealthy && old == StatusRecovering:
		e.events = append(e.events, FaultEvent{Kind: EventRecovered, Partition: id, TimestampMs: now})
	}

	c.logger.Info("partition status changed",
		zap.String("partition", id.String()),
		zap.String("old_status", old.String()),
		zap.String("new_status", newStatus.String()),
		zap.String("reason", reason),
	)

	c.listeners.notify(ChangeEvent{
		Partition:   id,
		OldStatus:   old,
		NewStatus:   newStatus,
		TimestampMs: now,
		Reason:      reason,
	})

	return true, old, newStatus
}

// History returns the FaultEvents recorded for a partition, oldest
// first. It is a supplemental read path; spec.md's public contract
// does not name it, but PartitionFaultEvent (§3) needs a reachable
// accessor to be exercised.
func (c *Classifier) History(id PartitionID) []FaultEvent {
	e, ok := c.peek(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]FaultEvent, len(e.events))
	copy(out, e.events)
	return out
}
