package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatID(t *testing.T) {
	assert.Equal(t, "alice_bob", ChatID("alice", "bob"))
	assert.Equal(t, "alice_bob", ChatID("bob", "alice"), "participant order must not change the id")
	assert.Equal(t, "a_b_c", ChatID("c", "a", "b"))
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		ok       bool
	}{
		{MessageStatusSending, MessageStatusSent, true},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusRead, true},
		{MessageStatusDelivered, MessageStatusRead, true},
		{MessageStatusRead, MessageStatusDelivered, false},
		{MessageStatusSent, MessageStatusSending, false},
		{MessageStatusSending, MessageStatusFailed, true},
		{MessageStatusSent, MessageStatusFailed, false},
		{MessageStatusFailed, MessageStatusSent, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestContentPreview(t *testing.T) {
	assert.Equal(t, "hello", TextContent("hello").Preview())
	media := MediaContentOf(MediaContent{URL: "https://x/y.png", MimeType: "image/png"})
	assert.NotEmpty(t, media.Preview())
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "a_b", PairKey("a", "b"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("b", "a"), "pair key is directional")
}

func TestIsCode(t *testing.T) {
	err := NewSelfRequestError()
	assert.True(t, IsCode(err, CodeSelfRequest))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.False(t, IsCode(nil, CodeSelfRequest))
}
