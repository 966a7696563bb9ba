// Package presence tracks which users currently hold live connections.
// The in-process counters are authoritative; a restart resets everyone to
// offline and clients re-register on reconnect.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Event struct {
	UserID     string
	Online     bool
	LastSeenAt time.Time
}

// Mirror receives last-seen transitions for offline display across restarts.
// Mirror failures are logged, never propagated.
type Mirror interface {
	SetOnline(userID string) error
	SetOffline(userID string, lastSeen time.Time) error
}

type entry struct {
	conns    int
	lastSeen time.Time
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	subs    []func(Event)
	mirror  Mirror
	log     *zap.SugaredLogger
}

func NewRegistry(mirror Mirror, log *zap.SugaredLogger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		mirror:  mirror,
		log:     log,
	}
}

// Subscribe registers fn for online/offline transitions. Must be called
// before connections start flowing; there is no unsubscribe.
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Connect increments the connection count for userID and emits an online
// event on the 0→1 transition.
func (r *Registry) Connect(userID string) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{}
		r.entries[userID] = e
	}
	e.conns++
	first := e.conns == 1
	subs := r.subs
	r.mu.Unlock()

	if !first {
		return
	}
	r.mirrorAsync(func(m Mirror) error { return m.SetOnline(userID) })
	for _, fn := range subs {
		fn(Event{UserID: userID, Online: true})
	}
}

// Disconnect decrements the connection count and, on the 1→0 transition,
// stamps lastSeen and emits an offline event.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || e.conns == 0 {
		r.mu.Unlock()
		return
	}
	e.conns--
	last := e.conns == 0
	var at time.Time
	if last {
		at = time.Now().UTC()
		e.lastSeen = at
	}
	subs := r.subs
	r.mu.Unlock()

	if !last {
		return
	}
	r.mirrorAsync(func(m Mirror) error { return m.SetOffline(userID, at) })
	for _, fn := range subs {
		fn(Event{UserID: userID, Online: false, LastSeenAt: at})
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	return ok && e.conns > 0
}

// IsAnyOnline reports whether at least one of userIDs is online. Used for
// call eligibility checks.
func (r *Registry) IsAnyOnline(userIDs []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range userIDs {
		if e, ok := r.entries[id]; ok && e.conns > 0 {
			return true
		}
	}
	return false
}

// LastSeen returns the recorded last-seen time for an offline user. The
// zero time means the user was never seen by this process.
func (r *Registry) LastSeen(userID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		return e.lastSeen
	}
	return time.Time{}
}

// mirrorAsync keeps registry operations non-blocking: the redis write runs
// on its own goroutine.
func (r *Registry) mirrorAsync(call func(Mirror) error) {
	if r.mirror == nil {
		return
	}
	go func() {
		if err := call(r.mirror); err != nil {
			r.log.Warnw("presence mirror write failed", "err", err)
		}
	}()
}
