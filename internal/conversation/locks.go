package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

// LockTable serializes mutations per conversation. Acquisition is bounded:
// a caller that cannot get the lock within the timeout fails with Busy
// instead of queuing indefinitely.
type LockTable struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func NewLockTable() *LockTable {
	return &LockTable{sems: make(map[string]chan struct{})}
}

func (t *LockTable) sem(id string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sems[id]
	if !ok {
		s = make(chan struct{}, 1)
		t.sems[id] = s
	}
	return s
}

// Acquire takes the conversation's lock, returning a release func. Unrelated
// conversations never contend with each other.
func (t *LockTable) Acquire(ctx context.Context, conversationID string, timeout time.Duration) (func(), error) {
	s := t.sem(conversationID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, apperr.Busy("conversation busy, retry")
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.CodeBusy, "canceled while waiting for conversation lock", ctx.Err())
	}
}
