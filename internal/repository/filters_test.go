package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestUnseenFilter(t *testing.T) {
	f := unseenFilter("conv-1", "bob")

	assert.Equal(t, "conv-1", f["conversation_id"])
	assert.Equal(t, bson.M{"$ne": "bob"}, f["seen_by.user_id"])
	assert.Equal(t, bson.M{"$ne": "bob"}, f["sender_id"], "own messages are not stamped")
}

func TestSeenUpdateFilter_PinnedToCollectedIDs(t *testing.T) {
	ids := []string{"m1", "m2"}
	f := seenUpdateFilter("bob", ids)

	in, ok := f["_id"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, ids, in["$in"], "update touches only the ids that will be broadcast")
	assert.Equal(t, bson.M{"$ne": "bob"}, f["seen_by.user_id"])
	assert.NotContains(t, f, "conversation_id", "the id pin already scopes the update")
}
