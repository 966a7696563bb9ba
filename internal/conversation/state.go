// Package conversation owns the authoritative membership and admin-role
// model. Every mutating operation on one conversation is serialized through
// the lock table, and the group admin invariant is re-checked before any
// commit: a non-empty group always keeps at least one admin.
package conversation

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/models"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"go.uber.org/zap"
)

// Broadcaster fans an event out to the conversation's live subscribers.
type Broadcaster interface {
	Broadcast(conversationID string, eventType string, payload any)
	Drop(conversationID string)
	EvictUser(conversationID, userID string)
}

// Publisher forwards audit events to the external notification pipeline.
type Publisher interface {
	PublishGroupEvent(ctx context.Context, m *models.Message) error
}

type StateMachine struct {
	store       repository.Store
	rooms       Broadcaster
	bus         Publisher
	locks       *LockTable
	lockTimeout time.Duration
	log         *zap.SugaredLogger
}

func NewStateMachine(store repository.Store, rooms Broadcaster, bus Publisher, locks *LockTable, lockTimeout time.Duration, log *zap.SugaredLogger) *StateMachine {
	return &StateMachine{
		store:       store,
		rooms:       rooms,
		bus:         bus,
		locks:       locks,
		lockTimeout: lockTimeout,
		log:         log,
	}
}

// Locks exposes the table so the delivery coordinator can serialize its
// persist step against membership mutations on the same conversation.
func (sm *StateMachine) Locks() *LockTable { return sm.locks }

// CreateGroup creates a group conversation with the creator as its admin.
func (sm *StateMachine) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*models.Conversation, error) {
	if name == "" {
		return nil, apperr.InvalidArg("group name required")
	}
	now := time.Now().UTC()
	members := []models.Member{{UserID: creatorID, Role: models.RoleAdmin, JoinedAt: now}}
	for _, id := range memberIDs {
		if id == creatorID {
			continue
		}
		if containsMember(members, id) {
			continue
		}
		members = append(members, models.Member{UserID: id, Role: models.RoleMember, JoinedAt: now})
	}
	c := &models.Conversation{
		Type:    models.ConversationGroup,
		Name:    name,
		Members: members,
	}
	c, err := sm.store.CreateConversation(ctx, c)
	if err != nil {
		return nil, err
	}
	sm.audit(ctx, c, models.ActionGroupCreated, creatorID, c.MemberIDs(), name)
	return c, nil
}

// EnsurePrivate returns the private conversation between two users,
// creating it on first exchange.
func (sm *StateMachine) EnsurePrivate(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == userB {
		return nil, apperr.InvalidArg("cannot open a private conversation with yourself")
	}
	// one lock per user pair closes the find/create window: concurrent first
	// exchanges between the same two users end up in a single conversation
	release, err := sm.locks.Acquire(ctx, privatePairKey(userA, userB), sm.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()
	if c, err := sm.store.FindPrivate(ctx, userA, userB); err == nil {
		return c, nil
	} else if apperr.CodeOf(err) != apperr.CodeNotFound {
		return nil, err
	}
	now := time.Now().UTC()
	c := &models.Conversation{
		Type: models.ConversationPrivate,
		Members: []models.Member{
			{UserID: userA, Role: models.RoleMember, JoinedAt: now},
			{UserID: userB, Role: models.RoleMember, JoinedAt: now},
		},
	}
	return sm.store.CreateConversation(ctx, c)
}

func privatePairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "private:" + a + ":" + b
}

func (sm *StateMachine) ListConversations(ctx context.Context, userID string, limit int64) ([]*models.Conversation, error) {
	return sm.store.ListConversations(ctx, userID, limit)
}

// AddMembers adds newUserIDs to a group. Requester must be admin. Ids that
// are already members are skipped; the added ids are returned, so a batch
// can partially succeed.
func (sm *StateMachine) AddMembers(ctx context.Context, conversationID, requesterID string, newUserIDs []string) ([]string, error) {
	var added []string
	err := sm.mutate(ctx, conversationID, func(c *models.Conversation) (*models.Message, error) {
		if !c.IsAdmin(requesterID) {
			return nil, apperr.NotAuthorized("only admins can add members")
		}
		now := time.Now().UTC()
		for _, id := range newUserIDs {
			if c.IsMember(id) {
				continue
			}
			c.Members = append(c.Members, models.Member{UserID: id, Role: models.RoleMember, JoinedAt: now})
			added = append(added, id)
		}
		if len(added) == 0 {
			return nil, apperr.AlreadyMember("all users are already members")
		}
		return systemMessage(c.ID, models.ActionMembersAdded, requesterID, added, ""), nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveMember removes targetID from a group. Requester must be admin.
// Self-removal goes through LeaveGroup; an admin trying to remove itself as
// the last admin gets the admin-transfer signal there, not here.
func (sm *StateMachine) RemoveMember(ctx context.Context, conversationID, requesterID, targetID string) error {
	err := sm.mutate(ctx, conversationID, func(c *models.Conversation) (*models.Message, error) {
		if !c.IsAdmin(requesterID) {
			return nil, apperr.NotAuthorized("only admins can remove members")
		}
		if !c.IsMember(targetID) {
			return nil, apperr.NotFound("target is not a member")
		}
		removeMember(c, targetID)
		return systemMessage(c.ID, models.ActionMemberRemoved, requesterID, []string{targetID}, ""), nil
	})
	if err != nil {
		return err
	}
	// the removed user must not keep receiving room traffic; eviction comes
	// after the broadcast so they still see the final membership event
	sm.rooms.EvictUser(conversationID, targetID)
	return nil
}

// PromoteToAdmin grants targetID the admin role. Additive: the requester
// keeps its own role.
func (sm *StateMachine) PromoteToAdmin(ctx context.Context, conversationID, requesterID, targetID string) error {
	return sm.mutate(ctx, conversationID, func(c *models.Conversation) (*models.Message, error) {
		if !c.IsAdmin(requesterID) {
			return nil, apperr.NotAuthorized("only admins can promote")
		}
		for i := range c.Members {
			if c.Members[i].UserID == targetID {
				if c.Members[i].Role == models.RoleAdmin {
					return nil, apperr.AlreadyMember("target is already an admin")
				}
				c.Members[i].Role = models.RoleAdmin
				return systemMessage(c.ID, models.ActionAdminPromoted, requesterID, []string{targetID}, ""), nil
			}
		}
		return nil, apperr.NotFound("target is not a member")
	})
}

// LeaveGroup removes userID from the group, enforcing the admin-transfer
// protocol: the sole admin of a group that still has other members cannot
// leave until a successor is promoted. The membership is left untouched and
// the caller is expected to promote and retry.
func (sm *StateMachine) LeaveGroup(ctx context.Context, conversationID, userID string) error {
	err := sm.mutate(ctx, conversationID, func(c *models.Conversation) (*models.Message, error) {
		m, ok := c.Member(userID)
		if !ok {
			return nil, apperr.NotAMember("not a member of this conversation")
		}
		soleAdmin := m.Role == models.RoleAdmin && c.AdminCount() == 1
		if soleAdmin && len(c.Members) > 1 {
			return nil, apperr.AdminTransferRequired("promote another admin before leaving")
		}
		removeMember(c, userID)
		if len(c.Members) == 0 {
			// last member leaving dissolves the conversation
			c.Dissolved = true
			return systemMessage(c.ID, models.ActionGroupDissolved, userID, nil, ""), nil
		}
		return systemMessage(c.ID, models.ActionMemberLeft, userID, nil, ""), nil
	})
	if err != nil {
		return err
	}
	sm.rooms.EvictUser(conversationID, userID)
	return nil
}

// DissolveGroup terminates the conversation: all members removed, a
// terminal system event broadcast, and the live room evicted.
func (sm *StateMachine) DissolveGroup(ctx context.Context, conversationID, requesterID string) error {
	return sm.mutate(ctx, conversationID, func(c *models.Conversation) (*models.Message, error) {
		if !c.IsAdmin(requesterID) {
			return nil, apperr.NotAuthorized("only admins can dissolve the group")
		}
		c.Members = nil
		c.Dissolved = true
		return systemMessage(c.ID, models.ActionGroupDissolved, requesterID, nil, ""), nil
	})
}

// RenameGroup updates the group's name. Admin-only metadata mutation.
func (sm *StateMachine) RenameGroup(ctx context.Context, conversationID, requesterID, name string) error {
	if name == "" {
		return apperr.InvalidArg("group name required")
	}
	return sm.mutateMetadata(ctx, conversationID, requesterID, models.ActionGroupRenamed, name,
		func(c *models.Conversation) error {
			return sm.store.RenameConversation(ctx, conversationID, name)
		})
}

// UpdateGroupAvatar updates the group's avatar reference. Admin-only.
func (sm *StateMachine) UpdateGroupAvatar(ctx context.Context, conversationID, requesterID, avatarRef string) error {
	return sm.mutateMetadata(ctx, conversationID, requesterID, models.ActionAvatarUpdated, avatarRef,
		func(c *models.Conversation) error {
			return sm.store.SetConversationAvatar(ctx, conversationID, avatarRef)
		})
}

// mutate runs one serialized membership mutation: load, apply, re-check the
// admin invariant, persist, append the audit message, broadcast. Rejections
// happen before persistence, never as rollbacks.
func (sm *StateMachine) mutate(ctx context.Context, conversationID string, apply func(*models.Conversation) (*models.Message, error)) error {
	release, err := sm.locks.Acquire(ctx, conversationID, sm.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	c, err := sm.store.LoadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.Dissolved {
		return apperr.NotFound("conversation is dissolved")
	}
	if c.Type != models.ConversationGroup {
		return apperr.InvalidArg("membership operations apply to group conversations")
	}

	audit, err := apply(c)
	if err != nil {
		return err
	}
	if !c.AdminInvariantHolds() {
		return apperr.AdminTransferRequired("operation would leave the group without an admin")
	}
	if err := sm.store.ReplaceMembers(ctx, conversationID, c.Members, c.Dissolved); err != nil {
		return err
	}
	sm.finish(ctx, c, audit)
	return nil
}

func (sm *StateMachine) mutateMetadata(ctx context.Context, conversationID, requesterID, action, value string, persist func(*models.Conversation) error) error {
	release, err := sm.locks.Acquire(ctx, conversationID, sm.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	c, err := sm.store.LoadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.Dissolved {
		return apperr.NotFound("conversation is dissolved")
	}
	if c.Type != models.ConversationGroup {
		return apperr.InvalidArg("metadata operations apply to group conversations")
	}
	if !c.IsAdmin(requesterID) {
		return apperr.NotAuthorized("only admins can change group metadata")
	}
	if err := persist(c); err != nil {
		return err
	}
	sm.finish(ctx, c, systemMessage(c.ID, action, requesterID, nil, value))
	return nil
}

// finish appends the audit message and notifies subscribers. The mutation is
// already committed; failures here are logged, not surfaced.
func (sm *StateMachine) finish(ctx context.Context, c *models.Conversation, audit *models.Message) {
	sm.audit(ctx, c, audit.System.Action, audit.System.ActorID, audit.System.TargetIDs, audit.System.Value)
	if c.Dissolved {
		sm.rooms.Drop(c.ID)
	}
}

func (sm *StateMachine) audit(ctx context.Context, c *models.Conversation, action, actorID string, targetIDs []string, value string) {
	msg := systemMessage(c.ID, action, actorID, targetIDs, value)
	persisted, err := sm.store.AppendMessage(ctx, msg)
	if err != nil {
		sm.log.Errorw("audit message append failed", "conversation", c.ID, "action", action, "err", err)
		return
	}
	sm.rooms.Broadcast(c.ID, models.EventGroupUpdated, persisted)
	if sm.bus != nil {
		if err := sm.bus.PublishGroupEvent(ctx, persisted); err != nil {
			sm.log.Warnw("group event publish failed", "conversation", c.ID, "action", action, "err", err)
		}
	}
}

func systemMessage(conversationID, action, actorID string, targetIDs []string, value string) *models.Message {
	return &models.Message{
		ConversationID: conversationID,
		Type:           models.MessageSystem,
		System: &models.SystemEvent{
			Action:    action,
			ActorID:   actorID,
			TargetIDs: targetIDs,
			Value:     value,
		},
	}
}

func removeMember(c *models.Conversation, userID string) {
	out := c.Members[:0]
	for _, m := range c.Members {
		if m.UserID != userID {
			out = append(out, m)
		}
	}
	c.Members = out
}

func containsMember(members []models.Member, userID string) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
