package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestUpdateDocument(t *testing.T) {
	t.Run("RoutesSentinelsAndIncrements", func(t *testing.T) {
		update := updateDocument(map[string]any{
			"status":     "accepted",
			"handledAt":  ServerTimestamp,
			"unread.bob": Increment(1),
		})

		set, ok := update["$set"].(bson.M)
		require.True(t, ok)
		assert.Equal(t, "accepted", set["status"])
		assertTimestampString(t, set["handledAt"])

		inc, ok := update["$inc"].(bson.M)
		require.True(t, ok)
		assert.EqualValues(t, 1, inc["unread.bob"])
	})

	t.Run("ResolvesSentinelInsideMapValue", func(t *testing.T) {
		// The chat update on send carries a summary map with its own
		// server timestamp; it must not reach the driver as a raw sentinel.
		update := updateDocument(map[string]any{
			"lastMessage": map[string]any{
				"id":     "m1",
				"sentAt": ServerTimestamp,
			},
			"updatedAt": ServerTimestamp,
		})

		set, ok := update["$set"].(bson.M)
		require.True(t, ok)
		summary, ok := set["lastMessage"].(bson.M)
		require.True(t, ok)
		assert.Equal(t, "m1", summary["id"])
		assertTimestampString(t, summary["sentAt"])
		assertTimestampString(t, set["updatedAt"])
	})

	t.Run("NoIncrementsOmitsInc", func(t *testing.T) {
		update := updateDocument(map[string]any{"a": 1})
		assert.NotContains(t, update, "$inc")
	})
}

func TestResolveForMongo(t *testing.T) {
	out := resolveForMongo(map[string]any{
		"createdAt": ServerTimestamp,
		"count":     Increment(3),
		"nested": map[string]any{
			"sentAt": ServerTimestamp,
		},
	})

	assertTimestampString(t, out["createdAt"])
	assert.EqualValues(t, 3, out["count"], "a replace write resolves increments from an absent field")
	nested, ok := out["nested"].(bson.M)
	require.True(t, ok)
	assertTimestampString(t, nested["sentAt"])
}

func assertTimestampString(t *testing.T, v any) {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "expected timestamp string, got %T", v)
	_, err := time.Parse(time.RFC3339Nano, s)
	assert.NoError(t, err)
}
