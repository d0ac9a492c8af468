package fault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) (*Classifier, *TestClock) {
	t.Helper()
	clock := NewTestClock(1000)
	cfg := DefaultFaultConfiguration()
	c := NewClassifier(cfg, clock, nil)
	c.Start()
	t.Cleanup(c.Stop)
	return c, clock
}

func TestCheckHealthDefaultsToHealthy(t *testing.T) {
	c, _ := newTestClassifier(t)
	assert.Equal(t, StatusHealthy, c.CheckHealth(NewPartitionID()))
}

func TestSymptomEscalation(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()

	c.ReportBarrierTimeout(p)
	assert.Equal(t, StatusSuspected, c.CheckHealth(p))

	c.ReportSyncFailure(p)
	assert.Equal(t, StatusFailed, c.CheckHealth(p))

	// FAILED is sticky against further symptoms.
	c.ReportHeartbeatFailure(p, "node-1")
	assert.Equal(t, StatusFailed, c.CheckHealth(p))
}

func TestMarkHealthyOnHealthyEmitsNoEvent(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()

	var events []ChangeEvent
	sub := c.Subscribe(func(e ChangeEvent) { events = append(events, e) })
	defer sub.Release()

	c.MarkHealthy(p)
	assert.Empty(t, events, "mark_healthy on an already-HEALTHY partition must emit no event")
}

func TestRepeatingSymptomOnFailedEmitsNoEvent(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()
	c.ReportBarrierTimeout(p)
	c.ReportSyncFailure(p)
	require.Equal(t, StatusFailed, c.CheckHealth(p))

	var events []ChangeEvent
	sub := c.Subscribe(func(e ChangeEvent) { events = append(events, e) })
	defer sub.Release()

	c.ReportSyncFailure(p)
	assert.Empty(t, events, "repeating a symptom on a FAILED partition must emit no event")
}

func TestSubscribeReleaseStopsDelivery(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()

	var count int
	sub := c.Subscribe(func(ChangeEvent) { count++ })
	c.ReportBarrierTimeout(p)
	assert.Equal(t, 1, count)

	sub.Release()
	c.ReportSyncFailure(p)
	assert.Equal(t, 1, count, "listener should not fire after Release")

	// Releasing twice is a no-op, not a panic.
	sub.Release()
}

func TestInitiateRecoveryWithNoopStrategy(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()
	c.ReportBarrierTimeout(p)
	c.ReportSyncFailure(p)
	c.RegisterRecovery(p, NewNoopStrategy(DefaultFaultConfiguration()))

	fut := c.InitiateRecovery(context.Background(), p)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusHealthy, c.CheckHealth(p))
}

func TestInitiateRecoveryWithNoStrategyIsNoopSuccess(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()
	c.ReportBarrierTimeout(p)

	fut := c.InitiateRecovery(context.Background(), p)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAutoRecoveryTriggersOnFailure(t *testing.T) {
	cfg := DefaultFaultConfiguration()
	c := NewClassifier(cfg, NewTestClock(0), nil)
	c.Start()
	defer c.Stop()

	p := NewPartitionID()
	c.RegisterRecovery(p, NewNoopStrategy(cfg))

	c.ReportBarrierTimeout(p)
	c.ReportSyncFailure(p)

	require.Eventually(t, func() bool {
		return c.CheckHealth(p) == StatusHealthy
	}, time.Second, time.Millisecond, "auto-recovery should bring the partition back to HEALTHY")
}

func TestMetricsAggregateAcrossPartitions(t *testing.T) {
	c, _ := newTestClassifier(t)
	p1, p2 := NewPartitionID(), NewPartitionID()

	c.ReportBarrierTimeout(p1)
	c.ReportSyncFailure(p1)
	c.ReportBarrierTimeout(p2)
	c.ReportSyncFailure(p2)

	agg := c.AggregateMetrics()
	assert.Equal(t, int64(2), agg.FailureCount)
}

func TestViewReportsNodeCounts(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()
	c.ReportHeartbeatFailure(p, "a")
	c.ReportHeartbeatFailure(p, "b")

	v := c.View(p)
	assert.Equal(t, 2, v.NodeCount)
	assert.Equal(t, 0, v.HealthyNodeCount)
}

func TestConcurrentSymptomsOnSamePartitionLinearize(t *testing.T) {
	c, _ := newTestClassifier(t)
	p := NewPartitionID()

	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			c.ReportBarrierTimeout(p)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}

	// Regardless of interleaving, escalation never goes past FAILED and
	// is never left in an intermediate/invalid state.
	status := c.CheckHealth(p)
	assert.Contains(t, []PartitionStatus{StatusSuspected, StatusFailed}, status)
}
