package chain

import "sync"

// lockArena hands out one mutex per actor and drops it once unused, so the
// map only holds actors with an append in flight.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*actorLock
}

type actorLock struct {
	mu   sync.Mutex
	refs int
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[string]*actorLock)}
}

// lock blocks until the caller owns actorID and returns the release func.
func (a *lockArena) lock(actorID string) func() {
	a.mu.Lock()
	l, ok := a.locks[actorID]
	if !ok {
		l = &actorLock{}
		a.locks[actorID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, actorID)
		}
		a.mu.Unlock()
	}
}

func (a *lockArena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
