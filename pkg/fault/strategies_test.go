package fault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopStrategyAlwaysSucceeds(t *testing.T) {
	cfg := DefaultFaultConfiguration()
	s := NewNoopStrategy(cfg)
	classifier := NewClassifier(cfg, NewTestClock(0), nil)
	partition := NewPartitionID()

	assert.True(t, s.CanRecover(partition, classifier))
	assert.Equal(t, "no-op", s.StrategyName())

	fut, err := s.Recover(context.Background(), partition, classifier)
	require.NoError(t, err)
	result, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.AttemptsNeeded)
}

func TestBarrierSyncRejectsUnknownPartition(t *testing.T) {
	cfg := DefaultFaultConfiguration()
	classifier := NewClassifier(cfg, NewTestClock(0), nil)
	partition := NewPartitionID() // never reported to classifier
	s := NewBarrierSyncStrategy(cfg, nil, NewTestClock(0), nil, nil)

	assert.False(t, s.CanRecover(partition, classifier))
	fut, err := s.Recover(context.Background(), partition, classifier)
	require.NoError(t, err)
	result, _ := fut.Wait(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, ErrUnknownPartition.Error(), result.FailureReason)
}

func TestBarrierSyncRejectsHealthyPartition(t *testing.T) {
	cfg := DefaultFaultConfiguration()
	classifier := NewClassifier(cfg, NewTestClock(0), nil)
	partition := NewPartitionID()
	classifier.ReportBarrierTimeout(partition)
	classifier.MarkHealthy(partition) // known to the classifier, but HEALTHY
	s := NewBarrierSyncStrategy(cfg, nil, NewTestClock(0), nil, nil)

	assert.False(t, s.CanRecover(partition, classifier))
	fut, err := s.Recover(context.Background(), partition, classifier)
	require.NoError(t, err)
	result, _ := fut.Wait(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, "partition is not SUSPECTED or FAILED", result.FailureReason)
}

func TestBarrierSyncSucceedsWithTopologyRegistered(t *testing.T) {
	cfg := DefaultFaultConfiguration()
	classifier := NewClassifier(cfg, NewTestClock(0), nil)
	partition := NewPartitionID()
	classifier.ReportBarrierTimeout(partition)
	classifier.ReportSyncFailure(partition)

	topology := NewInMemoryTopology()
	topology.Register(partition, Rank(1))

	var progress []RecoveryProgress
	var events []RecoveryEvent
	observers := NewRecoveryObservers()
	observers.SubscribeProgress(func(p RecoveryProgress) { progress = append(progress, p) })
	observers.SubscribeEvents(func(e RecoveryEvent) { events = append(events, e) })

	s := NewBarrierSyncStrategy(cfg, topology, NewTestClock(0), observers, nil)
	fut, err := s.Recover(context.Background(), partition, classifier)
	require.NoError(t, err)
	result, err := fut.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.AttemptsNeeded)
	assert.Equal(t, StatusHealthy, classifier.CheckHealth(partition))
	assert.NotEmpty(t, progress)
	assert.NotEmpty(t, events)
}

func TestBarrierSyncRetriesWithoutTopologyThenExhausts(t *testing.T) {
	cfg, err := DefaultFaultConfiguration().WithMaxRecoveryRetries(2)
	require.NoError(t, err)
	classifier := NewClassifier(cfg, NewTestClock(0), nil)
	partition := NewPartitionID()
	classifier.ReportBarrierTimeout(partition)
	classifier.ReportSyncFailure(partition)

	// No topology registration: synchronizeBarrier always fails, so the
	// strategy must exhaust max_recovery_retries and report failure.
	s := NewBarrierSyncStrategy(cfg, NewInMemoryTopology(), NewTestClock(0), nil, nil)

	start := time.Now()
	fut, err := s.Recover(context.Background(), partition, classifier)
	require.NoError(t, err)
	result, err := fut.Wait(context.Background())
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.AttemptsNeeded)
	assert.NotEmpty(t, result.FailureReason)
	// Backoff starts at 100ms and doubles: one wait of ~100ms between
	// the two attempts.
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestCascadingStrategyAllSucceed(t *testing.T) {
	cfg := DefaultFaultConfiguration()
	classifier := NewClassifier(cfg, NewTestClock(0), nil)
	primary := NewPartitionID()
	dep1, dep2 := NewPartitionID(), NewPartitionID()
	classifier.ReportBarrierTimeout(primary)
	classifier.ReportSyncFailure(primary)

	graph := NewInMemoryDependencyGraph()
	graph.Declare(primary, dep1, dep2)

	s := NewCascadingStrategy(cfg, graph, NewNoopStrategy(cfg), NewTestClock(0), nil, nil)
	fut, err := s.Recover(context.Background(), primary, classifier)
	require.NoError(t, err)
	result, err := fut.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
}

func TestCascadingStrategyFailureReportsDiagnostics(t *testing.T) {
	cfg := DefaultFaultConfiguration()
	classifier := NewClassifier(cfg, NewTestClock(0), nil)
	primary := NewPartitionID()
	dep1 := NewPartitionID()
	classifier.ReportBarrierTimeout(primary)
	classifier.ReportSyncFailure(primary)

	graph := NewInMemoryDependencyGraph()
	graph.Declare(primary, dep1)

	s := NewCascadingStrategy(cfg, graph, failingStrategy{cfg: cfg}, NewTestClock(0), nil, nil)
	fut, err := s.Recover(context.Background(), primary, classifier)
	require.NoError(t, err)
	result, err := fut.Wait(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.FailureReason, "simulated strategy failure")
}
