package models

import "time"

// Event is the envelope for every server→client frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Event types pushed to room subscribers or to all sockets (presence).
const (
	EventNewMessage     = "newMessage"
	EventMessagesSeen   = "messagesSeen"
	EventMessageRevoked = "messageRevoked"
	EventGroupUpdated   = "groupUpdated"
	EventCallStarted    = "callStarted"
	EventTyping         = "typing"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
)

type MessagesSeenPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	SeenAt         time.Time `json:"seen_at"`
	MessageIDs     []string  `json:"message_ids"`
}

type CallStartedPayload struct {
	ConversationID string   `json:"conversation_id"`
	CallerID       string   `json:"caller_id"`
	Members        []string `json:"members"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type PresencePayload struct {
	UserID     string     `json:"user_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
