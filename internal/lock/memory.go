package lock

import "sync"

// MemoryLock is an in-process Lock for tests and single-binary callers that
// do not need cross-process exclusion.
type MemoryLock struct {
	mu   sync.Mutex
	held bool
}

func NewMemoryLock() *MemoryLock { return &MemoryLock{} }

func (l *MemoryLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return ErrHeld
	}
	l.held = true
	return nil
}

func (l *MemoryLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}
