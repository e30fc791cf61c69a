package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/kv"
)

type profile struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

func TestMemoryTierTTL(t *testing.T) {
	c := New(nil, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.SetFast("profile:u1", profile{UID: "u1", Name: "Alice"}, time.Minute)

	var got profile
	require.True(t, c.GetFast("profile:u1", &got))
	assert.Equal(t, "Alice", got.Name)

	now = now.Add(61 * time.Second)
	assert.False(t, c.GetFast("profile:u1", &got), "entry must expire after its TTL")
}

func TestTieredSetGet(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	durable, err := kv.NewRedis(mr.Addr())
	require.NoError(t, err)
	defer func() { _ = durable.Close() }()

	c := New(durable, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	p := profile{UID: "u1", Name: "Alice"}
	require.NoError(t, c.Set(ctx, "profile:u1", p, TTL{Memory: time.Minute, Durable: time.Hour}))

	t.Run("MemoryHit", func(t *testing.T) {
		var got profile
		ok, err := c.Get(ctx, "profile:u1", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, p, got)
	})

	t.Run("DurableFallbackAfterMemoryExpiry", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		var got profile
		ok, err := c.Get(ctx, "profile:u1", &got)
		require.NoError(t, err)
		require.True(t, ok, "durable tier should still hold the entry")
		assert.Equal(t, "Alice", got.Name)
	})

	t.Run("DurableExpiry", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		var got profile
		ok, err := c.Get(ctx, "profile:u1", &got)
		require.NoError(t, err)
		assert.False(t, ok, "entry past its durable TTL is a miss")
	})
}

func TestRehydrationKeepsMemoryTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	durable, err := kv.NewRedis(mr.Addr())
	require.NoError(t, err)
	defer func() { _ = durable.Close() }()

	c := New(durable, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, "k", "v", TTL{Memory: time.Minute, Durable: time.Hour}))

	// Expire the memory tier, then rehydrate from the durable tier.
	now = now.Add(2 * time.Minute)
	var got string
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)

	// The rehydrated entry must honor the class memory TTL, not the
	// remaining durable lifetime.
	now = now.Add(90 * time.Second)
	assert.False(t, c.GetFast("k", &got), "memory tier must expire first after rehydration")
	ok, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok, "durable tier still serves the entry")
}

func TestDurableFailureDegradesSilently(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	durable, err := kv.NewRedis(mr.Addr())
	require.NoError(t, err)

	c := New(durable, nil)
	mr.Close()

	// Writes and reads keep working on the memory tier alone.
	require.NoError(t, c.Set(ctx, "k", "v", TTL{Memory: time.Minute, Durable: time.Hour}))
	var got string
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestOverlay(t *testing.T) {
	c := New(nil, nil)

	type message struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	key := MessagesKey("c1")
	c.SetFast(key, []message{{ID: "m1", Text: "hello"}}, time.Minute)

	require.NoError(t, c.OverlayAppend(key, message{ID: "m2", Text: "optimistic"}))
	var msgs []message
	require.True(t, c.GetFast(key, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[1].ID)

	require.NoError(t, c.OverlayRemove(key, func(item any) bool {
		m, ok := item.(message)
		return ok && m.ID == "m2"
	}))
	require.True(t, c.GetFast(key, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID, "rollback must restore the pre-append sequence")
}

func TestOverlayAppendOnEmptyKey(t *testing.T) {
	c := New(nil, nil)

	type message struct{ ID string }
	require.NoError(t, c.OverlayAppend("chat:empty:messages", message{ID: "m1"}))
	var msgs []message
	require.True(t, c.GetFast("chat:empty:messages", &msgs))
	require.Len(t, msgs, 1)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	durable, err := kv.NewRedis(mr.Addr())
	require.NoError(t, err)
	defer func() { _ = durable.Close() }()

	c := New(durable, nil)
	require.NoError(t, c.Set(ctx, "a", 1, TTL{Memory: time.Minute, Durable: time.Hour}))
	require.NoError(t, c.Set(ctx, "b", 2, TTL{Memory: time.Minute, Durable: time.Hour}))

	c.Invalidate(ctx, "a")
	var n int
	ok, err := c.Get(ctx, "a", &n)
	require.NoError(t, err)
	assert.False(t, ok)

	c.InvalidateAll(ctx)
	ok, err = c.Get(ctx, "b", &n)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLPolicies(t *testing.T) {
	for _, class := range []Class{ClassProfile, ClassChatList, ClassMessages, ClassUnread, ClassPresence, ClassScroll} {
		ttl := TTLFor(class)
		assert.LessOrEqual(t, ttl.Memory, ttl.Durable, "memory TTL must not outlive durable TTL for %v", class)
	}

	t.Run("OverrideClampsMemory", func(t *testing.T) {
		prev := TTLFor(ClassScroll)
		defer OverrideTTL(ClassScroll, prev)

		OverrideTTL(ClassScroll, TTL{Memory: time.Hour, Durable: time.Minute})
		got := TTLFor(ClassScroll)
		assert.Equal(t, time.Minute, got.Memory)
		assert.Equal(t, time.Minute, got.Durable)
	})
}
