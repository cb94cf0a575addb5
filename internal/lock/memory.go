package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Locker
type Memory struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewMemory creates an in-process locker
func NewMemory() *Memory {
	return &Memory{held: make(map[string]time.Time), now: time.Now}
}

// TryLock acquires name unless it is held and not yet expired
func (m *Memory) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.held[name]; ok && now.Before(exp) {
		return nil, false, nil
	}
	m.held[name] = now.Add(ttl)
	return &memoryLease{m: m, name: name}, true, nil
}

type memoryLease struct {
	m    *Memory
	name string
	once sync.Once
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.m.mu.Lock()
		delete(l.m.held, l.name)
		l.m.mu.Unlock()
	})
	return nil
}
