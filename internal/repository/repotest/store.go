// Package repotest provides an in-memory Store for package tests, the way
// the mongo store behaves but without a database.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/models"
)

type Store struct {
	mu            sync.Mutex
	seq           int
	Conversations map[string]*models.Conversation
	Messages      map[string]*models.Message

	// FailAppend makes the next AppendMessage return a persistence error,
	// for persist-before-broadcast tests.
	FailAppend bool
}

func New() *Store {
	return &Store{
		Conversations: make(map[string]*models.Conversation),
		Messages:      make(map[string]*models.Message),
	}
}

func (s *Store) nextID(kind string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", kind, s.seq)
}

// Seed installs a conversation directly, bypassing CreateConversation.
func (s *Store) Seed(c *models.Conversation) *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.nextID("conv")
	}
	cp := cloneConversation(c)
	s.Conversations[cp.ID] = cp
	return cloneConversation(cp)
}

func (s *Store) CreateConversation(_ context.Context, c *models.Conversation) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID("conv")
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.Conversations[c.ID] = cloneConversation(c)
	return cloneConversation(c), nil
}

func (s *Store) LoadConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Conversations[id]
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}
	return cloneConversation(c), nil
}

func (s *Store) FindPrivate(_ context.Context, userA, userB string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Conversations {
		if c.Type == models.ConversationPrivate && c.IsMember(userA) && c.IsMember(userB) {
			return cloneConversation(c), nil
		}
	}
	return nil, apperr.NotFound("private conversation not found")
}

func (s *Store) ListConversations(_ context.Context, userID string, limit int64) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Conversation
	for _, c := range s.Conversations {
		if !c.Dissolved && c.IsMember(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ReplaceMembers(_ context.Context, conversationID string, members []models.Member, dissolved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Conversations[conversationID]
	if !ok {
		return apperr.NotFound("conversation not found")
	}
	c.Members = append([]models.Member(nil), members...)
	c.Dissolved = dissolved
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RenameConversation(_ context.Context, conversationID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Conversations[conversationID]
	if !ok {
		return apperr.NotFound("conversation not found")
	}
	c.Name = name
	return nil
}

func (s *Store) SetConversationAvatar(_ context.Context, conversationID, avatarRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Conversations[conversationID]
	if !ok {
		return apperr.NotFound("conversation not found")
	}
	c.AvatarRef = avatarRef
	return nil
}

func (s *Store) AppendMessage(_ context.Context, m *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend {
		s.FailAppend = false
		return nil, apperr.Persistence("insert message", fmt.Errorf("append failed"))
	}
	m.ID = s.nextID("msg")
	m.CreatedAt = time.Now().UTC()
	s.Messages[m.ID] = cloneMessage(m)
	return cloneMessage(m), nil
}

func (s *Store) LoadMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Messages[id]
	if !ok {
		return nil, apperr.NotFound("message not found")
	}
	return cloneMessage(m), nil
}

func (s *Store) FetchHistory(_ context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.Messages {
		if m.ConversationID != conversationID {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		hidden := false
		for _, h := range m.HiddenFor {
			if h == viewerID {
				hidden = true
				break
			}
		}
		if hidden {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *Store) UpsertSeen(_ context.Context, conversationID, userID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, m := range s.Messages {
		if m.ConversationID != conversationID || m.SenderID == userID || m.SeenByUser(userID) {
			continue
		}
		m.SeenBy = append(m.SeenBy, models.SeenRecord{UserID: userID, SeenAt: at})
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) RevokeMessage(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Messages[messageID]
	if !ok {
		return apperr.NotFound("message not found")
	}
	m.Revoked = true
	m.Content = ""
	m.Attachments = nil
	return nil
}

func (s *Store) HideForUser(_ context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Messages[messageID]
	if !ok {
		return apperr.NotFound("message not found")
	}
	for _, h := range m.HiddenFor {
		if h == userID {
			return nil
		}
	}
	m.HiddenFor = append(m.HiddenFor, userID)
	return nil
}

// MessagesIn returns the conversation's messages oldest first, including
// system messages, for assertions.
func (s *Store) MessagesIn(conversationID string) []*models.Message {
	out, _ := s.FetchHistory(context.Background(), conversationID, "", 0, time.Time{})
	return out
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Members = append([]models.Member(nil), c.Members...)
	return &cp
}

func cloneMessage(m *models.Message) *models.Message {
	cp := *m
	cp.Attachments = append([]string(nil), m.Attachments...)
	cp.SeenBy = append([]models.SeenRecord(nil), m.SeenBy...)
	cp.HiddenFor = append([]string(nil), m.HiddenFor...)
	if m.System != nil {
		sys := *m.System
		cp.System = &sys
	}
	return &cp
}
