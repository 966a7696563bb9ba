package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoStore struct {
	convCol *mongo.Collection
	msgCol  *mongo.Collection
}

func NewMongoStore(db *mongo.Database) Store {
	convCol := db.Collection("conversations")
	msgCol := db.Collection("messages")

	// members lookup for ListConversations, created_at for history pages
	_, _ = convCol.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "members.user_id", Value: 1}},
		Options: options.Index().SetName("members_user_idx"),
	})
	_, _ = msgCol.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("conv_created_idx"),
	})
	return &mongoStore{convCol: convCol, msgCol: msgCol}
}

func (s *mongoStore) CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	now := time.Now().UTC()
	c.ID = primitive.NewObjectID().Hex()
	c.CreatedAt = now
	c.UpdatedAt = now
	if _, err := s.convCol.InsertOne(ctx, c); err != nil {
		return nil, apperr.Persistence("insert conversation", err)
	}
	return c, nil
}

func (s *mongoStore) LoadConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.convCol.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, apperr.Persistence("load conversation", err)
	}
	return &c, nil
}

func (s *mongoStore) FindPrivate(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	filter := bson.M{
		"type":            models.ConversationPrivate,
		"members.user_id": bson.M{"$all": bson.A{userA, userB}},
	}
	var c models.Conversation
	if err := s.convCol.FindOne(ctx, filter).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.NotFound("private conversation not found")
		}
		return nil, apperr.Persistence("find private conversation", err)
	}
	return &c, nil
}

func (s *mongoStore) ListConversations(ctx context.Context, userID string, limit int64) ([]*models.Conversation, error) {
	filter := bson.M{"members.user_id": userID, "dissolved": false}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetLimit(limit)
	cur, err := s.convCol.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Persistence("list conversations", err)
	}
	defer cur.Close(ctx)
	var out []*models.Conversation
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, apperr.Persistence("decode conversation", err)
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (s *mongoStore) ReplaceMembers(ctx context.Context, conversationID string, members []models.Member, dissolved bool) error {
	update := bson.M{"$set": bson.M{
		"members":    members,
		"dissolved":  dissolved,
		"updated_at": time.Now().UTC(),
	}}
	res, err := s.convCol.UpdateByID(ctx, conversationID, update)
	if err != nil {
		return apperr.Persistence("replace members", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}

func (s *mongoStore) RenameConversation(ctx context.Context, conversationID, name string) error {
	return s.setField(ctx, conversationID, "name", name)
}

func (s *mongoStore) SetConversationAvatar(ctx context.Context, conversationID, avatarRef string) error {
	return s.setField(ctx, conversationID, "avatar_ref", avatarRef)
}

func (s *mongoStore) setField(ctx context.Context, conversationID, field, value string) error {
	update := bson.M{"$set": bson.M{field: value, "updated_at": time.Now().UTC()}}
	res, err := s.convCol.UpdateByID(ctx, conversationID, update)
	if err != nil {
		return apperr.Persistence("update conversation "+field, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}

func (s *mongoStore) AppendMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	// identity and created_at are assigned here so the conversation has a
	// single server-defined total order
	m.ID = primitive.NewObjectID().Hex()
	m.CreatedAt = time.Now().UTC()
	if _, err := s.msgCol.InsertOne(ctx, m); err != nil {
		return nil, apperr.Persistence("insert message", err)
	}
	_, _ = s.convCol.UpdateByID(ctx, m.ConversationID,
		bson.M{"$set": bson.M{"updated_at": m.CreatedAt}})
	return m, nil
}

func (s *mongoStore) LoadMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	if err := s.msgCol.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Persistence("load message", err)
	}
	return &m, nil
}

func (s *mongoStore) FetchHistory(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"hidden_for":      bson.M{"$ne": viewerID},
	}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)
	cur, err := s.msgCol.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Persistence("fetch history", err)
	}
	defer cur.Close(ctx)
	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Persistence("decode message", err)
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Persistence("history cursor", err)
	}
	// chronological order for the client
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *mongoStore) UpsertSeen(ctx context.Context, conversationID, userID string, at time.Time) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := s.msgCol.Find(ctx, unseenFilter(conversationID, userID), opts)
	if err != nil {
		return nil, apperr.Persistence("find unseen", err)
	}
	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			cur.Close(ctx)
			return nil, apperr.Persistence("decode unseen id", err)
		}
		ids = append(ids, doc.ID)
	}
	cur.Close(ctx)
	if len(ids) == 0 {
		return nil, nil
	}

	record := models.SeenRecord{UserID: userID, SeenAt: at}
	update := bson.M{"$push": bson.M{"seen_by": record}}
	if _, err := s.msgCol.UpdateMany(ctx, seenUpdateFilter(userID, ids), update); err != nil {
		return nil, apperr.Persistence("upsert seen", err)
	}
	return ids, nil
}

// unseenFilter matches messages the user has not acknowledged and did not
// send. The seen_by guard makes repeat calls no-ops.
func unseenFilter(conversationID, userID string) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"seen_by.user_id": bson.M{"$ne": userID},
		"sender_id":       bson.M{"$ne": userID},
	}
}

// seenUpdateFilter pins the update to the ids collected beforehand, so a
// message appended between the id scan and the update is never stamped:
// the persisted set and the broadcast payload always agree.
func seenUpdateFilter(userID string, ids []string) bson.M {
	return bson.M{
		"_id":             bson.M{"$in": ids},
		"seen_by.user_id": bson.M{"$ne": userID},
	}
}

func (s *mongoStore) RevokeMessage(ctx context.Context, messageID string) error {
	// tombstone: record persists, content does not
	update := bson.M{"$set": bson.M{"revoked": true, "content": ""},
		"$unset": bson.M{"attachments": ""}}
	res, err := s.msgCol.UpdateByID(ctx, messageID, update)
	if err != nil {
		return apperr.Persistence("revoke message", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

func (s *mongoStore) HideForUser(ctx context.Context, messageID, userID string) error {
	update := bson.M{"$addToSet": bson.M{"hidden_for": userID}}
	res, err := s.msgCol.UpdateByID(ctx, messageID, update)
	if err != nil {
		return apperr.Persistence("hide message", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}
