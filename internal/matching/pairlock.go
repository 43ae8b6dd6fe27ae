package matching

import "sync"

// PairLocks is a keyed mutex. Entries exist only while some goroutine holds
// or waits for the key.
type PairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func NewPairLocks() *PairLocks {
	return &PairLocks{locks: make(map[string]*pairLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (p *PairLocks) Lock(key string) (unlock func()) {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// Len reports how many keys are currently held or awaited.
func (p *PairLocks) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
