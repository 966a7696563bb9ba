// Package delivery orchestrates the path from "client submits a message" to
// "all room subscribers observe it and receipts flow back". The rule
// throughout: persist first, broadcast after. No event is ever emitted for
// a message that has no durable record.
package delivery

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/conversation"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/models"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"go.uber.org/zap"
)

type Broadcaster interface {
	Broadcast(conversationID string, eventType string, payload any)
}

type Publisher interface {
	PublishMessageSent(ctx context.Context, m *models.Message) error
}

type Coordinator struct {
	store       repository.Store
	rooms       Broadcaster
	bus         Publisher
	locks       *conversation.LockTable
	lockTimeout time.Duration
	log         *zap.SugaredLogger
}

func NewCoordinator(store repository.Store, rooms Broadcaster, bus Publisher, locks *conversation.LockTable, lockTimeout time.Duration, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		store:       store,
		rooms:       rooms,
		bus:         bus,
		locks:       locks,
		lockTimeout: lockTimeout,
		log:         log,
	}
}

// SendMessage validates membership, persists the message and broadcasts it
// to the room. The conversation lock is held only around the persist step,
// which is what fixes the server-defined order; the broadcast runs after
// release. A broadcast failure is non-fatal: the message is durable and
// shows up on the next history fetch.
func (d *Coordinator) SendMessage(ctx context.Context, conversationID, senderID, content string, attachments []string, replyTo string) (*models.Message, error) {
	if content == "" && len(attachments) == 0 {
		return nil, apperr.InvalidArg("empty message")
	}

	release, err := d.locks.Acquire(ctx, conversationID, d.lockTimeout)
	if err != nil {
		return nil, err
	}
	c, err := d.store.LoadConversation(ctx, conversationID)
	if err != nil {
		release()
		return nil, err
	}
	if c.Dissolved {
		release()
		return nil, apperr.NotFound("conversation is dissolved")
	}
	if !c.IsMember(senderID) {
		release()
		return nil, apperr.NotAMember("sender is not a member of this conversation")
	}
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           models.MessageText,
		Content:        content,
		Attachments:    attachments,
		ReplyTo:        replyTo,
	}
	persisted, err := d.store.AppendMessage(ctx, msg)
	release()
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()
	d.rooms.Broadcast(conversationID, models.EventNewMessage, persisted)
	if d.bus != nil {
		if err := d.bus.PublishMessageSent(ctx, persisted); err != nil {
			d.log.Warnw("message event publish failed", "conversation", conversationID, "message", persisted.ID, "err", err)
		}
	}
	return persisted, nil
}

// MarkAsRead stamps a seen record on every message the user has not yet
// acknowledged, then tells the room which ids changed. Idempotent: a repeat
// call touches nothing and broadcasts nothing.
func (d *Coordinator) MarkAsRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	c, err := d.store.LoadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.IsMember(userID) {
		return nil, apperr.NotAMember("not a member of this conversation")
	}
	at := time.Now().UTC()
	ids, err := d.store.UpsertSeen(ctx, conversationID, userID, at)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	d.rooms.Broadcast(conversationID, models.EventMessagesSeen, models.MessagesSeenPayload{
		ConversationID: conversationID,
		UserID:         userID,
		SeenAt:         at,
		MessageIDs:     ids,
	})
	return ids, nil
}

// RevokeMessage tombstones a message. Only the original sender may revoke;
// the record persists so the stream keeps its order.
func (d *Coordinator) RevokeMessage(ctx context.Context, messageID, requesterID string) error {
	m, err := d.store.LoadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		return apperr.NotAuthorized("only the sender can revoke a message")
	}
	if err := d.store.RevokeMessage(ctx, messageID); err != nil {
		return err
	}
	m.Revoked = true
	m.Content = ""
	m.Attachments = nil
	d.rooms.Broadcast(m.ConversationID, models.EventMessageRevoked, m)
	return nil
}

// DeleteForUser hides a message for the requester only. Never broadcast,
// never mutates shared content: every other viewer's stream is unchanged.
func (d *Coordinator) DeleteForUser(ctx context.Context, messageID, requesterID string) error {
	m, err := d.store.LoadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	c, err := d.store.LoadConversation(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	if !c.IsMember(requesterID) {
		return apperr.NotAMember("not a member of this conversation")
	}
	return d.store.HideForUser(ctx, messageID, requesterID)
}

// FetchHistory returns a page of the conversation for the viewer, oldest
// first. Clients call this after reconnecting to reconcile their view.
func (d *Coordinator) FetchHistory(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error) {
	c, err := d.store.LoadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.IsMember(viewerID) {
		return nil, apperr.NotAMember("not a member of this conversation")
	}
	return d.store.FetchHistory(ctx, conversationID, viewerID, limit, before)
}
