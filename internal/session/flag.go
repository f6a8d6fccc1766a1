package session

import "sync"

// Flag is an observable boolean. It backs the loading state of a session: true while a send is in flight.
type Flag struct {
	pubMu sync.Mutex

	mu    sync.RWMutex
	value bool
	subs  map[uint64]func(bool)
	next  uint64
}

// NewFlag creates a flag initialized to false.
func NewFlag() *Flag {
	return &Flag{subs: make(map[uint64]func(bool))}
}

// Value returns the current value.
func (f *Flag) Value() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

// Set stores v and, if it differs from the current value, notifies every subscriber synchronously.
func (f *Flag) Set(v bool) {
	f.pubMu.Lock()
	defer f.pubMu.Unlock()

	f.mu.Lock()
	if f.value == v {
		f.mu.Unlock()
		return
	}
	f.value = v
	subs := make([]func(bool), 0, len(f.subs))
	for _, id := range sortedKeys(f.subs) {
		subs = append(subs, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers fn to receive every change of the flag. The returned function removes the subscription.
func (f *Flag) Subscribe(fn func(bool)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
