package rule

import "sync"

// LockTable hands out one RWMutex per rule id. Evaluation takes the
// read side so any number of workers can evaluate the same rule
// against different records concurrently; rule updates take the write
// side for the duration of the update.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewLockTable creates an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.RWMutex)}
}

func (t *LockTable) get(id string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[id] = l
	}
	return l
}

// RLock acquires the shared side of the rule's lock.
func (t *LockTable) RLock(id string) { t.get(id).RLock() }

// RUnlock releases the shared side.
func (t *LockTable) RUnlock(id string) { t.get(id).RUnlock() }

// Lock acquires the exclusive side for a rule update.
func (t *LockTable) Lock(id string) { t.get(id).Lock() }

// Unlock releases the exclusive side.
func (t *LockTable) Unlock(id string) { t.get(id).Unlock() }

// Forget drops a deleted rule's lock.
func (t *LockTable) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, id)
}
