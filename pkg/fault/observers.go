package fault

// RecoveryProgress is published by a strategy while it works, so
// operators can watch a recovery in flight rather than only seeing its
// terminal result.
type RecoveryProgress struct {
	Partition  PartitionID
	PhaseLabel string
	Percent    int
	ElapsedMs  int64
	Message    string
}

// RecoveryEventType names the kind of milestone a RecoveryEvent reports.
type RecoveryEventType int

const (
	RecoveryEventStarted RecoveryEventType = iota
	RecoveryEventValidation
	RecoveryEventBarrier
	RecoveryEventVerification
	RecoveryEventCompleted
	RecoveryEventFailed
)

func (t RecoveryEventType) String() string {
	switch t {
	case RecoveryEventStarted:
		return "STARTED"
	case RecoveryEventValidation:
		return "VALIDATION"
	case RecoveryEventBarrier:
		return "BARRIER"
	case RecoveryEventVerification:
		return "VERIFICATION"
	case RecoveryEventCompleted:
		return "COMPLETED"
	case RecoveryEventFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// RecoveryEvent is a discrete milestone published by a recovery
// strategy, distinct from the continuous RecoveryProgress stream. The
// Coordinator publishes no RecoveryEvents.
type RecoveryEvent struct {
	Partition   PartitionID
	EventType   RecoveryEventType
	Details     string
	TimestampMs int64
}

// RecoveryObservers is the pair of copy-on-write channels a strategy
// publishes to. It is safe for concurrent subscribe/notify from many
// goroutines.
type RecoveryObservers struct {
	progress *broadcaster[RecoveryProgress]
	events   *broadcaster[RecoveryEvent]
}

// NewRecoveryObservers constructs a ready-to-use RecoveryObservers. Callers
// outside this package must use this rather than the zero value, which
// holds nil broadcasters and panics on Subscribe.
func NewRecoveryObservers() *RecoveryObservers {
	return &RecoveryObservers{
		progress: newBroadcaster[RecoveryProgress](nil),
		events:   newBroadcaster[RecoveryEvent](nil),
	}
}

// SubscribeProgress registers a listener for RecoveryProgress updates.
func (o *RecoveryObservers) SubscribeProgress(fn func(RecoveryProgress)) *Subscription {
	return o.progress.subscribe(fn)
}

// SubscribeEvents registers a listener for RecoveryEvent milestones.
func (o *RecoveryObservers) SubscribeEvents(fn func(RecoveryEvent)) *Subscription {
	return o.events.subscribe(fn)
}

func (o *RecoveryObservers) publishProgress(p RecoveryProgress) {
	o.progress.notify(p)
}

func (o *RecoveryObservers) publishEvent(e RecoveryEvent) {
	o.events.notify(e)
}
