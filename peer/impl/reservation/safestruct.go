package reservation

import "sync"

// SafeWaiters implements a thread-safe table of callers waiting for a
// reservation to be applied.
type SafeWaiters struct {
	*sync.RWMutex
	channels map[string][]chan struct{}
}

func (t *SafeWaiters) add(key string) chan struct{} {
	t.Lock()
	defer t.Unlock()
	channel := make(chan struct{})
	t.channels[key] = append(t.channels[key], channel)
	return channel
}

func (t *SafeWaiters) remove(key string, channel chan struct{}) {
	t.Lock()
	defer t.Unlock()
	waiters := t.channels[key]
	for i, c := range waiters {
		if c == channel {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(t.channels, key)
	} else {
		t.channels[key] = waiters
	}
}

// notify wakes every waiter of the key.
func (t *SafeWaiters) notify(key string) {
	t.Lock()
	defer t.Unlock()
	for _, c := range t.channels[key] {
		close(c)
	}
	delete(t.channels, key)
}

func (t *SafeWaiters) count() int {
	t.RLock()
	defer t.RUnlock()
	total := 0
	for _, waiters := range t.channels {
		total += len(waiters)
	}
	return total
}

func NewSafeWaiters() *SafeWaiters {
	return &SafeWaiters{&sync.RWMutex{}, map[string][]chan struct{}{}}
}
