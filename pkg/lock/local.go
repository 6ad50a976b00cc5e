package lock

import (
	"context"
	"sync"
)

// LocalLocker is an in-process keyed mutex for single-instance deployments.
type LocalLocker struct {
	policy Policy

	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker(policy Policy) *LocalLocker {
	return &LocalLocker{policy: policy, held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	return acquireOrdered(ctx, l.policy, normalize(keys), l.try, l.release)
}

func (l *LocalLocker) try(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}
