package fault

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Token is the exclusive, owned handle returned by Begin/TryBegin. It
// decrements the tracker's active count exactly once, no matter how
// many times Release is called.
type Token struct {
	released atomic.Bool
	tracker  *Tracker
}

// Release decrements the tracker's active count. Calling Release more
// than once, or on a nil Token, is a no-op.
func (tok *Token) Release() {
	if tok == nil || !tok.released.CompareAndSwap(false, true) {
		return
	}
	tok.tracker.releaseOne()
}

// Tracker is the in-flight operation counting barrier: while it is
// paused, new operations are rejected until the active count drains to
// zero and a coordinator calls Resume. Capacity is unbounded; "bounded"
// in the data model refers to the barrier's wait window, not a limit
// on concurrent operations.
type Tracker struct {
	active int64
	paused atomic.Bool

	mu     sync.Mutex
	signal chan struct{}

	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTracker constructs a Tracker. A nil logger defaults to a no-op
// logger; drain-timeout warnings are rate-limited to once per second so
// a sustained pause under load does not flood logs.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Begin registers one in-flight operation and returns its Token. It
// fails with ErrPaused if the tracker is currently paused.
func (t *Tracker) Begin() (*Token, error) {
	atomic.AddInt64(&t.active, 1)
	if t.paused.Load() {
		t.releaseOne()
		return nil, ErrPaused
	}
	return &Token{tracker: t}, nil
}

// TryBegin is Begin without an error value: ok is false when paused.
func (t *Tracker) TryBegin() (token *Token, ok bool) {
	tok, err := t.Begin()
	if err != nil {
		return nil, false
	}
	return tok, true
}

// releaseOne decrements the active count and, if the tracker is paused
// and the count just reached zero, fires the one-shot drain signal for
// any blocked PauseAndWait call.
func (t *Tracker) releaseOne() {
	remaining := atomic.AddInt64(&t.active, -1)
	if remaining < 0 {
		// A double-release slipping past the token's guard, or a
		// programming error elsewhere, must never make active_count
		// observably negative.
		atomic.StoreInt64(&t.active, 0)
		remaining = 0
	}
	if remaining <= 0 && t.paused.Load() {
		t.fireSignal()
	}
}

func (t *Tracker) fireSignal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signal != nil {
		close(t.signal)
		t.signal = nil
	}
}

// PauseAndWait sets the paused flag, rejecting future Begin calls, and
// blocks until the active count reaches zero or timeout elapses. It
// returns true in the former case (including the trivial case where the
// count was already zero), false in the latter.
func (t *Tracker) PauseAndWait(timeout time.Duration) bool {
	t.paused.Store(true)
	if atomic.LoadInt64(&t.active) == 0 {
		return true
	}

	t.mu.Lock()
	ch := make(chan struct{})
	t.signal = ch
	t.mu.Unlock()

	// A release may have landed between the first check and registering
	// the signal channel; re-check before committing to the wait.
	if atomic.LoadInt64(&t.active) == 0 {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		if t.limiter.Allow() {
			t.logger.Warn("tracker drain timed out", zap.Int64("active_count", atomic.LoadInt64(&t.active)))
		}
		return atomic.LoadInt64(&t.active) == 0
	}
}

// Resume clears the paused flag, waking any blocked PauseAndWait call
// (which returns true, per the drain contract), and allows future
// pause/drain cycles.
func (t *Tracker) Resume() {
	t.paused.Store(false)
	t.fireSignal()
}

// IsPaused reports whether the tracker currently rejects Begin.
func (t *Tracker) IsPaused() bool {
	return t.paused.Load()
}

// ActiveCount returns the number of outstanding, unreleased tokens.
func (t *Tracker) ActiveCount() int64 {
	return atomic.LoadInt64(&t.active)
}
