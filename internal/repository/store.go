// Package repository is the narrow gateway to the durable datastore:
// conversations, messages, seen records and membership changes.
package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/models"
)

// Store is the contract the engine holds against the datastore. The mongo
// implementation is the production one; tests substitute an in-memory fake.
type Store interface {
	CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error)
	LoadConversation(ctx context.Context, id string) (*models.Conversation, error)
	FindPrivate(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int64) ([]*models.Conversation, error)

	// ReplaceMembers commits a membership change (and the dissolved flag)
	// produced by the state machine.
	ReplaceMembers(ctx context.Context, conversationID string, members []models.Member, dissolved bool) error
	RenameConversation(ctx context.Context, conversationID, name string) error
	SetConversationAvatar(ctx context.Context, conversationID, avatarRef string) error

	AppendMessage(ctx context.Context, m *models.Message) (*models.Message, error)
	LoadMessage(ctx context.Context, id string) (*models.Message, error)
	// FetchHistory returns up to limit messages before the given time (zero
	// means newest page), oldest first, excluding messages hidden for the
	// viewer.
	FetchHistory(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error)
	// UpsertSeen stamps a seen record for every message in the conversation
	// not yet seen by userID and returns the ids it touched. Idempotent.
	UpsertSeen(ctx context.Context, conversationID, userID string, at time.Time) ([]string, error)
	RevokeMessage(ctx context.Context, messageID string) error
	HideForUser(ctx context.Context, messageID, userID string) error
}
