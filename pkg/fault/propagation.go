package fault

import (
	"time"

	"go.uber.org/zap"
)

// FailurePropagator models cascading failure through a dependency
// graph: when a partition it watches transitions to FAILED, each of
// its declared dependents is reported a barrier timeout and then a sync
// failure after a delay that increases with its position in the
// declaration order. This is
// deliberately wall-clock based rather than Clock-driven — it models
// real inter-node failure propagation latency, not a value under test
// control.
type FailurePropagator struct {
	classifier *Classifier
	graph      DependencyGraph
	delay      time.Duration
	logger     *zap.Logger
	sub        *Subscription
}

// NewFailurePropagator subscribes to classifier and begins propagating
// FAILED transitions to dependents declared in graph, staggered by
// delay per position. Call Stop to unsubscribe.
func NewFailurePropagator(classifier *Classifier, graph DependencyGraph, delay time.Duration, logger *zap.Logger) *FailurePropagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &FailurePropagator{classifier: classifier, graph: graph, delay: delay, logger: logger}
	p.sub = classifier.Subscribe(p.onChange)
	return p
}

// Stop unsubscribes the propagator from the classifier. Already
// scheduled propagations still fire.
func (p *FailurePropagator) Stop() {
	p.sub.Release()
}

func (p *FailurePropagator) onChange(e ChangeEvent) {
	if e.NewStatus != StatusFailed {
		return
	}
	dependents := p.graph.DependentsOf(e.Partition)
	for i, dep := range dependents {
		dep := dep
		wait := time.Duration(i+1) * p.delay
		time.AfterFunc(wait, func() {
			p.logger.Info("propagating cascading failure", zap.String("from", e.Partition.String()), zap.String("to", dep.String()))
			// Two symptoms in sequence walk a HEALTHY dependent straight
			// to FAILED, matching how a real downstream partition would
			// observe both a barrier timeout and a sync failure once its
			// upstream dependency is gone.
			p.classifier.ReportBarrierTimeout(dep)
			p.classifier.ReportSyncFailure(dep)
		})
	}
}
