package room

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/fathima-sithara/realtime-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	id   string
	user string
	fail bool

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSink) ID() string { return f.id }

func (f *fakeSink) UserID() string { return f.user }

func (f *fakeSink) Send(payload []byte) error {
	if f.fail {
		return errors.New("dead sink")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeSink) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.frames {
		var ev models.Event
		require.NoError(t, json.Unmarshal(b, &ev))
		out = append(out, ev.Type)
	}
	return out
}

func newTestMux() *Multiplexer {
	return NewMultiplexer(zap.NewNop().Sugar())
}

func TestMultiplexer_JoinIsIdempotent(t *testing.T) {
	m := newTestMux()
	s := &fakeSink{id: "s1"}

	m.Join("c1", s)
	m.Join("c1", s)
	assert.Equal(t, 1, m.Subscribers("c1"))

	m.Broadcast("c1", models.EventTyping, nil)
	assert.Len(t, s.types(t), 1, "joined twice, delivered once")
}

func TestMultiplexer_BroadcastOrderPerSubscriber(t *testing.T) {
	m := newTestMux()
	s1 := &fakeSink{id: "s1"}
	s2 := &fakeSink{id: "s2"}
	m.Join("c1", s1)
	m.Join("c1", s2)

	m.Broadcast("c1", "first", nil)
	m.Broadcast("c1", "second", nil)
	m.Broadcast("c1", "third", nil)

	want := []string{"first", "second", "third"}
	assert.Equal(t, want, s1.types(t))
	assert.Equal(t, want, s2.types(t))
}

func TestMultiplexer_DeadSinkIsIsolatedAndDropped(t *testing.T) {
	m := newTestMux()
	alive := &fakeSink{id: "alive"}
	dead := &fakeSink{id: "dead", fail: true}
	m.Join("c1", alive)
	m.Join("c1", dead)

	m.Broadcast("c1", models.EventNewMessage, nil)

	assert.Equal(t, []string{models.EventNewMessage}, alive.types(t))
	assert.Equal(t, 1, m.Subscribers("c1"), "dead sink evicted")

	m.Broadcast("c1", models.EventNewMessage, nil)
	assert.Len(t, alive.types(t), 2)
}

func TestMultiplexer_LeaveAndLeaveAll(t *testing.T) {
	m := newTestMux()
	s := &fakeSink{id: "s1"}
	m.Join("c1", s)
	m.Join("c2", s)

	m.Leave("c1", "s1")
	assert.Equal(t, 0, m.Subscribers("c1"))
	assert.Equal(t, 1, m.Subscribers("c2"))

	m.LeaveAll("s1")
	assert.Equal(t, 0, m.Subscribers("c2"))
}

func TestMultiplexer_EvictUserDropsAllTheirSinks(t *testing.T) {
	m := newTestMux()
	phone := &fakeSink{id: "bob-phone", user: "bob"}
	laptop := &fakeSink{id: "bob-laptop", user: "bob"}
	other := &fakeSink{id: "carol-1", user: "carol"}
	m.Join("c1", phone)
	m.Join("c1", laptop)
	m.Join("c1", other)
	m.Join("c2", phone)

	m.EvictUser("c1", "bob")

	assert.Equal(t, 1, m.Subscribers("c1"), "both of bob's connections evicted")
	assert.Equal(t, 1, m.Subscribers("c2"), "other rooms untouched")

	m.Broadcast("c1", models.EventNewMessage, nil)
	assert.Empty(t, phone.types(t))
	assert.Empty(t, laptop.types(t))
	assert.Equal(t, []string{models.EventNewMessage}, other.types(t))
}

func TestMultiplexer_DropEvictsRoom(t *testing.T) {
	m := newTestMux()
	s := &fakeSink{id: "s1"}
	m.Join("c1", s)

	m.Drop("c1")
	assert.Equal(t, 0, m.Subscribers("c1"))

	m.Broadcast("c1", models.EventNewMessage, nil)
	assert.Empty(t, s.types(t))
}
