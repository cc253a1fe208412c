package service

import (
	"context"
	"sync"
)

// keyedLock serialises work per key while letting distinct keys proceed concurrently.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*keyedSlot
}

type keyedSlot struct {
	sem  chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: map[string]*keyedSlot{}}
}

// Acquire blocks until key is free or ctx ends. The returned func releases the key.
func (l *keyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keyedSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.forget(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.forget(key, slot)
		})
	}, nil
}

func (l *keyedLock) forget(key string, slot *keyedSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
