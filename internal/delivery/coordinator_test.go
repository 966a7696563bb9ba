package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/conversation"
	"github.com/fathima-sithara/realtime-service/internal/models"
	"github.com/fathima-sithara/realtime-service/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedEvent struct {
	ConversationID string
	Type           string
	Payload        any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeBroadcaster) Broadcast(conversationID, eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{conversationID, eventType, payload})
}

func (f *fakeBroadcaster) all() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedEvent(nil), f.events...)
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []*models.Message
}

func (f *fakePublisher) PublishMessageSent(_ context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func newTestCoordinator(store *repotest.Store) (*Coordinator, *fakeBroadcaster, *fakePublisher) {
	b := &fakeBroadcaster{}
	p := &fakePublisher{}
	d := NewCoordinator(store, b, p, conversation.NewLockTable(), time.Second, zap.NewNop().Sugar())
	return d, b, p
}

func seedGroup(store *repotest.Store, userIDs ...string) *models.Conversation {
	members := make([]models.Member, 0, len(userIDs))
	for i, id := range userIDs {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleAdmin
		}
		members = append(members, models.Member{UserID: id, Role: role})
	}
	return store.Seed(&models.Conversation{
		Type:    models.ConversationGroup,
		Name:    "team",
		Members: members,
	})
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("persists then broadcasts then publishes", func(t *testing.T) {
		store := repotest.New()
		d, b, p := newTestCoordinator(store)
		conv := seedGroup(store, "alice", "bob")

		msg, err := d.SendMessage(ctx, conv.ID, "alice", "hello", nil, "")
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero(), "identity and timestamp are server-assigned")

		events := b.all()
		require.Len(t, events, 1)
		assert.Equal(t, models.EventNewMessage, events[0].Type)
		assert.Equal(t, conv.ID, events[0].ConversationID)
		require.Len(t, p.sent, 1)
		assert.Equal(t, msg.ID, p.sent[0].ID)
	})

	t.Run("non-member persists and broadcasts nothing", func(t *testing.T) {
		store := repotest.New()
		d, b, _ := newTestCoordinator(store)
		conv := seedGroup(store, "alice", "bob")

		_, err := d.SendMessage(ctx, conv.ID, "mallory", "hi", nil, "")
		assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))
		assert.Empty(t, b.all())
		assert.Empty(t, store.MessagesIn(conv.ID))
	})

	t.Run("persistence failure aborts before any broadcast", func(t *testing.T) {
		store := repotest.New()
		d, b, p := newTestCoordinator(store)
		conv := seedGroup(store, "alice", "bob")

		store.FailAppend = true
		_, err := d.SendMessage(ctx, conv.ID, "alice", "hello", nil, "")
		assert.Equal(t, apperr.CodePersistence, apperr.CodeOf(err))
		assert.Empty(t, b.all(), "no event without a durable record")
		assert.Empty(t, p.sent)
	})

	t.Run("empty message rejected", func(t *testing.T) {
		store := repotest.New()
		d, _, _ := newTestCoordinator(store)
		conv := seedGroup(store, "alice", "bob")

		_, err := d.SendMessage(ctx, conv.ID, "alice", "", nil, "")
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	})
}

func TestMarkAsRead_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := repotest.New()
	d, b, _ := newTestCoordinator(store)
	conv := seedGroup(store, "alice", "bob")

	m1, err := d.SendMessage(ctx, conv.ID, "alice", "one", nil, "")
	require.NoError(t, err)
	m2, err := d.SendMessage(ctx, conv.ID, "alice", "two", nil, "")
	require.NoError(t, err)

	ids, err := d.MarkAsRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, ids)

	// repeat call is a no-op: same seen set, no extra records, no broadcast
	again, err := d.MarkAsRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, again)

	msgs := store.MessagesIn(conv.ID)
	for _, m := range msgs {
		count := 0
		for _, s := range m.SeenBy {
			if s.UserID == "bob" {
				count++
			}
		}
		assert.Equal(t, 1, count, "exactly one seen record per (user, message)")
	}

	events := b.all()
	seenEvents := 0
	for _, e := range events {
		if e.Type == models.EventMessagesSeen {
			seenEvents++
			payload := e.Payload.(models.MessagesSeenPayload)
			assert.Equal(t, "bob", payload.UserID)
			assert.ElementsMatch(t, []string{m1.ID, m2.ID}, payload.MessageIDs)
		}
	}
	assert.Equal(t, 1, seenEvents)
}

func TestMarkAsRead_NonMember(t *testing.T) {
	ctx := context.Background()
	store := repotest.New()
	d, _, _ := newTestCoordinator(store)
	conv := seedGroup(store, "alice", "bob")

	_, err := d.MarkAsRead(ctx, conv.ID, "mallory")
	assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))
}

func TestRevokeMessage(t *testing.T) {
	ctx := context.Background()
	store := repotest.New()
	d, b, _ := newTestCoordinator(store)
	conv := seedGroup(store, "alice", "bob")

	msg, err := d.SendMessage(ctx, conv.ID, "alice", "secret", nil, "")
	require.NoError(t, err)

	t.Run("only the sender may revoke", func(t *testing.T) {
		err := d.RevokeMessage(ctx, msg.ID, "bob")
		assert.Equal(t, apperr.CodeNotAuthorized, apperr.CodeOf(err))
	})

	t.Run("sender revoke tombstones and broadcasts", func(t *testing.T) {
		require.NoError(t, d.RevokeMessage(ctx, msg.ID, "alice"))

		got, err := store.LoadMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		assert.Empty(t, got.Content, "content tombstoned, record persists")

		events := b.all()
		last := events[len(events)-1]
		assert.Equal(t, models.EventMessageRevoked, last.Type)
	})
}

func TestDeleteForUser_PerViewerOnly(t *testing.T) {
	ctx := context.Background()
	store := repotest.New()
	d, b, _ := newTestCoordinator(store)
	conv := seedGroup(store, "alice", "bob")

	msg, err := d.SendMessage(ctx, conv.ID, "alice", "hello", nil, "")
	require.NoError(t, err)
	before := len(b.all())

	require.NoError(t, d.DeleteForUser(ctx, msg.ID, "bob"))
	// idempotent
	require.NoError(t, d.DeleteForUser(ctx, msg.ID, "bob"))

	assert.Len(t, b.all(), before, "delete-for-me is never broadcast")

	bobView, err := d.FetchHistory(ctx, conv.ID, "bob", 10, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, bobView)

	aliceView, err := d.FetchHistory(ctx, conv.ID, "alice", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, aliceView, 1)
	assert.Equal(t, "hello", aliceView[0].Content, "shared content unaffected")
}

func TestFetchHistory_StableOrder(t *testing.T) {
	ctx := context.Background()
	store := repotest.New()
	d, _, _ := newTestCoordinator(store)
	conv := seedGroup(store, "alice", "bob")

	var sent []string
	for _, text := range []string{"a", "b", "c", "d"} {
		m, err := d.SendMessage(ctx, conv.ID, "alice", text, nil, "")
		require.NoError(t, err)
		sent = append(sent, m.ID)
	}

	msgs, err := d.FetchHistory(ctx, conv.ID, "bob", 10, time.Time{})
	require.NoError(t, err)
	var got []string
	for _, m := range msgs {
		got = append(got, m.ID)
	}
	assert.Equal(t, sent, got, "history preserves send order")

	_, err = d.FetchHistory(ctx, conv.ID, "mallory", 10, time.Time{})
	assert.Equal(t, apperr.CodeNotAMember, apperr.CodeOf(err))
}
