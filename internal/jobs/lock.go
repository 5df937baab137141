package jobs

import (
	"sync"
	"sync/atomic"
)

// RepoLock provides non-blocking lock semantics using atomic operations.
// One repository runs at most one job at a time.
type RepoLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *RepoLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the holder that successfully acquired the lock.
func (l *RepoLock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently taken
func (l *RepoLock) Held() bool {
	return l.state.Load() == 1
}

// repoLocks hands out one RepoLock per repository ID
type repoLocks struct {
	mu    sync.Mutex
	locks map[string]*RepoLock
}

func (r *repoLocks) get(repositoryID string) *RepoLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*RepoLock)
	}
	l, ok := r.locks[repositoryID]
	if !ok {
		l = &RepoLock{}
		r.locks[repositoryID] = l
	}
	return l
}
