// Package keylock provides a per-key FIFO mutex.
//
// Each key owns a chain of waiters: a new caller records itself as the
// chain's tail and waits for the previous tail to finish. Callers on the
// same key therefore run strictly in arrival order, whether the previous
// holder succeeded or failed, while different keys never block each other.
// Chains are dropped once the last waiter releases, so idle keys hold no
// memory.
package keylock

import "sync"

// Locker serializes work per key. The zero value is ready to use.
type Locker struct {
	mu     sync.Mutex
	chains map[string]*chain
}

type chain struct {
	tail    chan struct{}
	pending int
}

// Lock blocks until every earlier caller for key has released, then
// returns the release function. Release is safe to call more than once.
func (l *Locker) Lock(key string) (release func()) {
	l.mu.Lock()
	if l.chains == nil {
		l.chains = make(map[string]*chain)
	}
	c := l.chains[key]
	if c == nil {
		c = &chain{}
		l.chains[key] = c
	}
	prev := c.tail
	mine := make(chan struct{})
	c.tail = mine
	c.pending++
	l.mu.Unlock()

	if prev != nil {
		<-prev
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			c.pending--
			if c.pending == 0 && l.chains[key] == c {
				delete(l.chains, key)
			}
			l.mu.Unlock()
			close(mine)
		})
	}
}

// Do runs fn while holding the lock for key and returns its error. The
// lock is released even if fn panics.
func (l *Locker) Do(key string, fn func() error) error {
	release := l.Lock(key)
	defer release()
	return fn()
}

// Pending reports how many callers hold or wait for key.
func (l *Locker) Pending(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.chains[key]; c != nil {
		return c.pending
	}
	return 0
}
