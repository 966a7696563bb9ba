// Package call is a thin signaling relay: it announces call starts to the
// room and owns no media or connection state.
package call

import (
	"context"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/models"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"go.uber.org/zap"
)

type Broadcaster interface {
	Broadcast(conversationID string, eventType string, payload any)
}

// OnlineChecker answers whether any of a set of users is currently online.
type OnlineChecker interface {
	IsAnyOnline(userIDs []string) bool
}

type Relay struct {
	store    repository.Store
	rooms    Broadcaster
	presence OnlineChecker
	log      *zap.SugaredLogger
}

func NewRelay(store repository.Store, rooms Broadcaster, presence OnlineChecker, log *zap.SugaredLogger) *Relay {
	return &Relay{store: store, rooms: rooms, presence: presence, log: log}
}

// InitiateCall announces a call to the room. The caller must be a member
// and at least one other member must be online, so a call is never issued
// that nobody can answer.
func (r *Relay) InitiateCall(ctx context.Context, conversationID, callerID string) error {
	c, err := r.store.LoadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.Dissolved {
		return apperr.NotFound("conversation is dissolved")
	}
	if !c.IsMember(callerID) {
		return apperr.NotAMember("caller is not a member of this conversation")
	}
	if !r.presence.IsAnyOnline(c.OtherMemberIDs(callerID)) {
		return apperr.NoOnlineParticipants("no other participant is online")
	}
	r.rooms.Broadcast(conversationID, models.EventCallStarted, models.CallStartedPayload{
		ConversationID: conversationID,
		CallerID:       callerID,
		Members:        c.MemberIDs(),
	})
	r.log.Infow("call started", "conversation", conversationID, "caller", callerID)
	return nil
}
