package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/internal/store"
)

type fixture struct {
	store    *store.Memory
	cache    *cache.Cache
	friends  *FriendService
	chats    *ChatService
	messages *MessageService
	users    *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	c := cache.New(nil, nil)
	chats := NewChatService(mem, c, nil)
	return &fixture{
		store:    mem,
		cache:    c,
		friends:  NewFriendService(mem, c, chats, nil),
		chats:    chats,
		messages: NewMessageService(mem, c, nil),
		users:    NewUserService(mem, c, nil),
	}
}

func fakeProfile(uid string) models.UserProfile {
	return models.UserProfile{
		UID:   uid,
		Name:  gofakeit.Name(),
		Photo: gofakeit.URL(),
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := fakeProfile("alice")
	bob := fakeProfile("bob")

	var requestID string

	t.Run("SendRequest", func(t *testing.T) {
		req, err := f.friends.SendRequest(ctx, "alice", "bob", alice, &bob, "hello")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusPending, req.Status)
		assert.Equal(t, "alice_bob", req.PairKey)
		assert.False(t, req.CreatedAt.IsZero(), "createdAt must come from the store clock")
		requestID = req.ID
	})

	t.Run("SendToSelf", func(t *testing.T) {
		_, err := f.friends.SendRequest(ctx, "alice", "alice", alice, nil, "")
		assert.True(t, models.IsCode(err, models.CodeSelfRequest))
	})

	t.Run("DuplicateWhilePending", func(t *testing.T) {
		_, err := f.friends.SendRequest(ctx, "alice", "bob", alice, &bob, "again")
		assert.True(t, models.IsCode(err, models.CodeDuplicateRequest))
	})

	t.Run("AcceptByWrongUser", func(t *testing.T) {
		err := f.friends.AcceptRequest(ctx, requestID, "alice")
		assert.True(t, models.IsCode(err, models.CodeForbidden))

		// The failed accept must not create any relationship.
		ok, err := f.friends.AreFriends(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Accept", func(t *testing.T) {
		require.NoError(t, f.friends.AcceptRequest(ctx, requestID, "bob"))

		ok, err := f.friends.AreFriends(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = f.friends.AreFriends(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.True(t, ok)

		// Acceptance creates the chat between the pair.
		chat, err := f.chats.Get(ctx, models.ChatID("alice", "bob"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alice", "bob"}, chat.Participants)
	})

	t.Run("AcceptTwice", func(t *testing.T) {
		err := f.friends.AcceptRequest(ctx, requestID, "bob")
		assert.True(t, models.IsCode(err, models.CodeAlreadyProcessed))
	})

	t.Run("ResendWhileFriends", func(t *testing.T) {
		_, err := f.friends.SendRequest(ctx, "alice", "bob", alice, &bob, "")
		assert.True(t, models.IsCode(err, models.CodeAlreadyFriends))
	})

	t.Run("ListFriends", func(t *testing.T) {
		friends, err := f.friends.ListFriends(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, friends, 1)
		assert.Equal(t, "bob", friends[0].FriendID)
	})

	t.Run("RemoveFriend", func(t *testing.T) {
		require.NoError(t, f.friends.RemoveFriend(ctx, "alice", "bob"))
		ok, err := f.friends.AreFriends(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.False(t, ok)

		err = f.friends.RemoveFriend(ctx, "alice", "bob")
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}

func TestRejectAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	carol := fakeProfile("carol")
	dave := fakeProfile("dave")

	t.Run("Reject", func(t *testing.T) {
		req, err := f.friends.SendRequest(ctx, "carol", "dave", carol, &dave, "")
		require.NoError(t, err)
		require.NoError(t, f.friends.RejectRequest(ctx, req.ID))

		err = f.friends.RejectRequest(ctx, req.ID)
		assert.True(t, models.IsCode(err, models.CodeAlreadyProcessed))

		// A rejected request no longer blocks a new one.
		_, err = f.friends.SendRequest(ctx, "carol", "dave", carol, &dave, "retry")
		assert.NoError(t, err)
	})

	t.Run("CancelDeletesPending", func(t *testing.T) {
		req, err := f.friends.SendRequest(ctx, "dave", "carol", dave, &carol, "")
		require.NoError(t, err)
		require.NoError(t, f.friends.CancelRequest(ctx, req.ID))

		err = f.friends.CancelRequest(ctx, req.ID)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})

	t.Run("CancelAccepted", func(t *testing.T) {
		erin := fakeProfile("erin")
		req, err := f.friends.SendRequest(ctx, "carol", "erin", carol, &erin, "")
		require.NoError(t, err)
		require.NoError(t, f.friends.AcceptRequest(ctx, req.ID, "erin"))

		err = f.friends.CancelRequest(ctx, req.ID)
		assert.True(t, models.IsCode(err, models.CodeAlreadyProcessed))
	})
}

func TestPendingCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := fakeProfile("target")

	for _, sender := range []string{"s1", "s2", "s3"} {
		_, err := f.friends.SendRequest(ctx, sender, "target", fakeProfile(sender), &target, "")
		require.NoError(t, err)
	}

	n, err := f.friends.PendingCount(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSubscribeReceived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := fakeProfile("bob")

	feed, err := f.friends.SubscribeReceived(ctx, "bob")
	require.NoError(t, err)
	defer feed.Unsubscribe()

	requests := waitRequests(t, feed)
	assert.Empty(t, requests)

	req, err := f.friends.SendRequest(ctx, "alice", "bob", fakeProfile("alice"), &bob, "")
	require.NoError(t, err)
	requests = waitRequests(t, feed)
	require.Len(t, requests, 1)
	assert.Equal(t, req.ID, requests[0].ID)

	// Accepting removes the request from the pending feed.
	require.NoError(t, f.friends.AcceptRequest(ctx, req.ID, "bob"))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case requests = <-feed.Updates():
			if len(requests) == 0 {
				return
			}
		case <-deadline:
			t.Fatal("feed never emptied after acceptance")
		}
	}
}

func TestSubscribeReceivedStreamError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := fakeProfile("bob")

	_, err := f.friends.SendRequest(ctx, "alice", "bob", fakeProfile("alice"), &bob, "")
	require.NoError(t, err)

	feed, err := f.friends.SubscribeReceived(ctx, "bob")
	require.NoError(t, err)
	defer feed.Unsubscribe()

	requests := waitRequests(t, feed)
	require.Len(t, requests, 1)

	// A dropped stream must empty the feed rather than leave stale rows.
	f.store.FailWatchers(RequestsCollection, errors.New("stream closed"))
	requests = waitRequests(t, feed)
	assert.Empty(t, requests)
}

func waitRequests(t *testing.T, feed *RequestFeed) []models.FriendRequest {
	t.Helper()
	select {
	case requests := <-feed.Updates():
		return requests
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed update")
	}
	return nil
}
