package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
)

func TestEnsureChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	profiles := map[string]models.UserProfile{
		"alice": fakeProfile("alice"),
		"bob":   fakeProfile("bob"),
	}

	chat, err := f.chats.Ensure(ctx, "alice", "bob", profiles)
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", chat.ID)
	assert.Equal(t, 0, chat.UnreadFor("alice"))
	assert.Equal(t, 0, chat.UnreadFor("bob"))

	t.Run("DeterministicID", func(t *testing.T) {
		// Participant order must not matter.
		again, err := f.chats.Ensure(ctx, "bob", "alice", profiles)
		require.NoError(t, err)
		assert.Equal(t, chat.ID, again.ID)
		assert.Equal(t, chat.CreatedAt, again.CreatedAt, "existing chat must be returned untouched")
	})
}

func TestListForUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedChat(t, f, "alice", "bob")
	seedChat(t, f, "alice", "carol")
	seedChat(t, f, "bob", "carol")

	chats, err := f.chats.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, chats, 2)

	chats, err = f.chats.ListForUser(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestScrollAnchor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chat := seedChat(t, f, "alice", "bob")

	_, ok := f.chats.ScrollAnchor(ctx, "alice", chat.ID)
	assert.False(t, ok)

	f.chats.SaveScrollAnchor(ctx, "alice", chat.ID, "m42")
	got, ok := f.chats.ScrollAnchor(ctx, "alice", chat.ID)
	require.True(t, ok)
	assert.Equal(t, "m42", got)

	// Anchors are per user and per chat.
	_, ok = f.chats.ScrollAnchor(ctx, "bob", chat.ID)
	assert.False(t, ok)
}

func TestMuteAndArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chat := seedChat(t, f, "alice", "bob")

	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, f.chats.Mute(ctx, chat.ID, "alice", until))
	require.NoError(t, f.chats.Archive(ctx, chat.ID, "alice", true))

	got, err := f.chats.Get(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, got.MuteUntil["alice"].Equal(until))
	assert.True(t, got.Archived["alice"])
	assert.False(t, got.Archived["bob"])

	// Per-user preferences must not reorder the chat list.
	assert.Equal(t, chat.UpdatedAt, got.UpdatedAt)

	t.Run("UnknownChat", func(t *testing.T) {
		err := f.chats.Archive(ctx, "missing", "alice", true)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}
