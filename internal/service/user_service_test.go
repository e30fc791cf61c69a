package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
	"chatsync/internal/store"
)

func seedUser(t *testing.T, f *fixture, uid string, online bool) models.UserProfile {
	t.Helper()
	profile := fakeProfile(uid)
	data, err := store.Encode(models.User{
		UID:         uid,
		Name:        profile.Name,
		Photo:       profile.Photo,
		Online:      online,
		FriendCount: 0,
	})
	require.NoError(t, err)
	data["createdAt"] = store.ServerTimestamp
	require.NoError(t, f.store.Collection(UsersCollection).Set(context.Background(), uid, data))
	return profile
}

func TestUserProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seeded := seedUser(t, f, "alice", false)

	got, err := f.users.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, seeded.Name, got.Name)

	t.Run("ServedFromCache", func(t *testing.T) {
		// With the store document gone the cached profile still answers.
		require.NoError(t, f.store.Collection(UsersCollection).Delete(ctx, "alice"))
		got, err := f.users.Profile(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, seeded.Name, got.Name)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, err := f.users.Profile(ctx, "nobody")
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}

func TestPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedUser(t, f, "bob", false)

	online, err := f.users.IsOnline(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, f.users.SetOnline(ctx, "bob", true))
	online, err = f.users.IsOnline(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, online, "SetOnline must invalidate the cached flag")

	t.Run("LastSeenStamped", func(t *testing.T) {
		doc, err := f.store.Collection(UsersCollection).Get(ctx, "bob")
		require.NoError(t, err)
		var user models.User
		require.NoError(t, doc.DataTo(&user))
		assert.False(t, user.LastSeenAt.IsZero())
	})

	t.Run("UnknownUser", func(t *testing.T) {
		err := f.users.SetOnline(ctx, "nobody", true)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}
