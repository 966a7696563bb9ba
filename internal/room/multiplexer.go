// Package room is the transport-level fan-out primitive: it maps a
// conversation id to the set of live connections subscribed to it.
package room

import (
	"encoding/json"
	"sync"

	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/models"
	"go.uber.org/zap"
)

// Sink is one live connection's outbound side. Send must not block: a full
// or closed connection returns an error and the multiplexer drops it.
// UserID ties the sink to its authenticated user so membership changes can
// evict every connection that user holds.
type Sink interface {
	ID() string
	UserID() string
	Send(payload []byte) error
}

type Multiplexer struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Sink // conversationID -> sinkID -> sink
	log   *zap.SugaredLogger
}

func NewMultiplexer(log *zap.SugaredLogger) *Multiplexer {
	return &Multiplexer{
		rooms: make(map[string]map[string]Sink),
		log:   log,
	}
}

// Join subscribes s to the conversation. Idempotent: re-joining with the
// same sink id has no additional effect.
func (m *Multiplexer) Join(conversationID string, s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[conversationID]
	if !ok {
		set = make(map[string]Sink)
		m.rooms[conversationID] = set
	}
	set[s.ID()] = s
}

func (m *Multiplexer) Leave(conversationID, sinkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.rooms[conversationID]; ok {
		delete(set, sinkID)
		if len(set) == 0 {
			delete(m.rooms, conversationID)
		}
	}
}

// LeaveAll removes the sink from every room it joined. Called on
// disconnect so cleanup cannot miss a room.
func (m *Multiplexer) LeaveAll(sinkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, set := range m.rooms {
		delete(set, sinkID)
		if len(set) == 0 {
			delete(m.rooms, convID)
		}
	}
}

// EvictUser removes every sink belonging to userID from the conversation's
// room. Called when a member is removed or leaves, so a revoked membership
// stops live delivery immediately instead of at disconnect.
func (m *Multiplexer) EvictUser(conversationID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[conversationID]
	if !ok {
		return
	}
	for id, s := range set {
		if s.UserID() == userID {
			delete(set, id)
		}
	}
	if len(set) == 0 {
		delete(m.rooms, conversationID)
	}
}

// Drop evicts an entire room. Used when a conversation is dissolved.
func (m *Multiplexer) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, conversationID)
}

// Broadcast delivers event to every sink joined to the conversation. A
// failing sink is dropped and logged; it never blocks or fails delivery to
// the others. Calls issued by one goroutine reach each surviving sink in
// program order.
func (m *Multiplexer) Broadcast(conversationID string, eventType string, payload any) {
	b, err := json.Marshal(models.Event{Type: eventType, Payload: payload})
	if err != nil {
		m.log.Errorw("broadcast marshal failed", "conversation", conversationID, "type", eventType, "err", err)
		return
	}

	var dead []string
	m.mu.RLock()
	for id, s := range m.rooms[conversationID] {
		if err := s.Send(b); err != nil {
			dead = append(dead, id)
			m.log.Warnw("dropping dead subscriber", "conversation", conversationID, "sink", id, "err", err)
		}
	}
	m.mu.RUnlock()

	for _, id := range dead {
		m.Leave(conversationID, id)
		metrics.DroppedSubscribers.Inc()
	}
}

// Subscribers returns the current number of sinks in the room.
func (m *Multiplexer) Subscribers(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[conversationID])
}
