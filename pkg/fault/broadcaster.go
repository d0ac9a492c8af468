package fault

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Subscription is an owned handle returned by every subscribe operation
// in this package. Its destruction (calling Release) unregisters the
// listener; there is no identity-based equality on closures to manage.
type Subscription struct {
	release func()
}

// Release unregisters the listener. Calling Release more than once, or
// on a nil Subscription, is a no-op.
func (s *Subscription) Release() {
	if s == nil || s.release == nil {
		return
	}
	s.release()
	s.release = nil
}

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
}

// broadcaster holds a copy-on-write listener list behind an atomic
// pointer: writers (subscribe/unsubscribe) publish a new slice, readers
// (notify) snapshot the pointer once and iterate it lock-free. Listener
// list mutation is safe concurrent with event delivery.
type broadcaster[T any] struct {
	nextID    atomic.Uint64
	listeners atomic.Pointer[[]listenerEntry[T]]
	logger    *zap.Logger
}

func newBroadcaster[T any](logger *zap.Logger) *broadcaster[T] {
	b := &broadcaster[T]{logger: logger}
	empty := make([]listenerEntry[T], 0)
	b.listeners.Store(&empty)
	return b
}

func (b *broadcaster[T]) subscribe(fn func(T)) *Subscription {
	id := b.nextID.Add(1)
	for {
		old := b.listeners.Load()
		next := make([]listenerEntry[T], len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, listenerEntry[T]{id: id, fn: fn})
		if b.listeners.CompareAndSwap(old, &next) {
			break
		}
	}
	return &Subscription{release: func() { b.unsubscribe(id) }}
}

func (b *broadcaster[T]) unsubscribe(id uint64) {
	for {
		old := b.listeners.Load()
		idx := -1
		for i, e := range *old {
			if e.id == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			return
		}
		next := make([]listenerEntry[T], 0, len(*old)-1)
		next = append(next, (*old)[:idx]...)
		next = append(next, (*old)[idx+1:]...)
		if b.listeners.CompareAndSwap(old, &next) {
			return
		}
	}
}

// notify delivers v to a consistent snapshot of the listener list.
// Listener panics are recovered and logged; they never affect other
// listeners or the broadcaster's own state.
func (b *broadcaster[T]) notify(v T) {
	snapshot := *b.listeners.Load()
	for _, e := range snapshot {
		b.invoke(e.fn, v)
	}
}

func (b *broadcaster[T]) invoke(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Warn("recovered panic in listener callback", zap.Any("panic", r))
		}
	}()
	fn(v)
}
