package models

import "time"

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Member struct {
	UserID   string    `bson:"user_id" json:"user_id"`
	Role     Role      `bson:"role" json:"role"`
	JoinedAt time.Time `bson:"joined_at" json:"joined_at"`
}

type Conversation struct {
	ID        string           `bson:"_id,omitempty" json:"id"`
	Type      ConversationType `bson:"type" json:"type"`
	Name      string           `bson:"name,omitempty" json:"name,omitempty"`
	AvatarRef string           `bson:"avatar_ref,omitempty" json:"avatar_ref,omitempty"`
	Members   []Member         `bson:"members" json:"members"`
	Dissolved bool             `bson:"dissolved" json:"dissolved"`
	CreatedAt time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time        `bson:"updated_at" json:"updated_at"`
}

func (c *Conversation) Member(userID string) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (c *Conversation) IsMember(userID string) bool {
	_, ok := c.Member(userID)
	return ok
}

func (c *Conversation) IsAdmin(userID string) bool {
	m, ok := c.Member(userID)
	return ok && m.Role == RoleAdmin
}

func (c *Conversation) AdminCount() int {
	n := 0
	for _, m := range c.Members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

func (c *Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// OtherMemberIDs returns the member ids excluding userID.
func (c *Conversation) OtherMemberIDs(userID string) []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m.UserID != userID {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// AdminInvariantHolds is the group safety invariant: a non-empty group must
// have at least one admin. Checked before every membership commit.
func (c *Conversation) AdminInvariantHolds() bool {
	if c.Type != ConversationGroup {
		return true
	}
	return len(c.Members) == 0 || c.AdminCount() > 0
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// System action codes carried by system messages.
const (
	ActionGroupCreated   = "group.created"
	ActionMembersAdded   = "group.members_added"
	ActionMemberRemoved  = "group.member_removed"
	ActionMemberLeft     = "group.member_left"
	ActionAdminPromoted  = "group.admin_promoted"
	ActionGroupRenamed   = "group.renamed"
	ActionAvatarUpdated  = "group.avatar_updated"
	ActionGroupDissolved = "group.dissolved"
)

// SystemEvent is the structured payload of a system message: the audit
// record of a membership or metadata change, interleaved in the normal
// message stream.
type SystemEvent struct {
	Action    string   `bson:"action" json:"action"`
	ActorID   string   `bson:"actor_id" json:"actor_id"`
	TargetIDs []string `bson:"target_ids,omitempty" json:"target_ids,omitempty"`
	Value     string   `bson:"value,omitempty" json:"value,omitempty"`
}

type SeenRecord struct {
	UserID string    `bson:"user_id" json:"user_id"`
	SeenAt time.Time `bson:"seen_at" json:"seen_at"`
}

type Message struct {
	ID             string       `bson:"_id,omitempty" json:"id"`
	ConversationID string       `bson:"conversation_id" json:"conversation_id"`
	SenderID       string       `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	Type           MessageType  `bson:"type" json:"type"`
	Content        string       `bson:"content,omitempty" json:"content,omitempty"`
	Attachments    []string     `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReplyTo        string       `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Revoked        bool         `bson:"revoked" json:"revoked"`
	System         *SystemEvent `bson:"system,omitempty" json:"system,omitempty"`
	SeenBy         []SeenRecord `bson:"seen_by,omitempty" json:"seen_by,omitempty"`
	HiddenFor      []string     `bson:"hidden_for,omitempty" json:"-"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
}

// SeenByUser reports whether userID already acknowledged this message.
func (m *Message) SeenByUser(userID string) bool {
	for _, s := range m.SeenBy {
		if s.UserID == userID {
			return true
		}
	}
	return false
}
