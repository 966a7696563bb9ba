package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil, zap.NewNop().Sugar())
}

func TestRegistry_OnlineTransitions(t *testing.T) {
	r := newTestRegistry()

	var mu sync.Mutex
	var events []Event
	r.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	assert.False(t, r.IsOnline("u1"))

	t.Run("second connection does not re-emit online", func(t *testing.T) {
		r.Connect("u1")
		r.Connect("u1")
		assert.True(t, r.IsOnline("u1"))

		mu.Lock()
		require.Len(t, events, 1)
		assert.Equal(t, "u1", events[0].UserID)
		assert.True(t, events[0].Online)
		mu.Unlock()
	})

	t.Run("offline only after the last disconnect", func(t *testing.T) {
		r.Disconnect("u1")
		assert.True(t, r.IsOnline("u1"), "one connection still open")

		r.Disconnect("u1")
		assert.False(t, r.IsOnline("u1"))

		mu.Lock()
		require.Len(t, events, 2)
		assert.False(t, events[1].Online)
		assert.False(t, events[1].LastSeenAt.IsZero())
		mu.Unlock()

		assert.False(t, r.LastSeen("u1").IsZero())
	})
}

func TestRegistry_DisconnectUnknownUserIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Disconnect("ghost")
	assert.False(t, r.IsOnline("ghost"))
	assert.True(t, r.LastSeen("ghost").IsZero())
}

func TestRegistry_IsAnyOnline(t *testing.T) {
	r := newTestRegistry()
	r.Connect("a")

	assert.True(t, r.IsAnyOnline([]string{"x", "a"}))
	assert.False(t, r.IsAnyOnline([]string{"x", "y"}))
	assert.False(t, r.IsAnyOnline(nil))
}

func TestRegistry_ConcurrentConnects(t *testing.T) {
	r := newTestRegistry()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Connect("u")
		}()
	}
	wg.Wait()
	assert.True(t, r.IsOnline("u"))

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Disconnect("u")
		}()
	}
	wg.Wait()
	assert.False(t, r.IsOnline("u"))
}
