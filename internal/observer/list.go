// Package observer provides a small synchronous fan-out list used by the
// connection registry, the stream merger and the transition notifier.
package observer

import "sync"

// List holds the current subscribers for values of type T. Emit delivers a
// value to every subscriber registered at the time of the call, in
// subscription order, on the calling goroutine.
//
// The zero value is ready to use.
type List[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (l *List[T]) Subscribe(fn func(T)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscriber[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every current subscriber with v. Subscribers added or removed
// while Emit runs do not affect the current delivery.
func (l *List[T]) Emit(v T) {
	l.mu.Lock()
	snapshot := make([]subscriber[T], len(l.subs))
	copy(snapshot, l.subs)
	l.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

// Len returns the number of current subscribers
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
