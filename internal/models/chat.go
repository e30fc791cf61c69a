package models

import (
	"sort"
	"strings"
	"time"
)

// Chat represents a chat conversation document. The id is a deterministic
// function of the sorted participant ids so repeated ensure calls are
// idempotent.
type Chat struct {
	ID           string                 `json:"id"`
	Participants []string               `json:"participants"`
	Profiles     map[string]UserProfile `json:"profiles,omitempty"`
	Unread       map[string]int         `json:"unread"`
	LastReadAt   map[string]time.Time   `json:"lastReadAt,omitempty"`
	MuteUntil    map[string]time.Time   `json:"muteUntil,omitempty"`
	Archived     map[string]bool        `json:"archived,omitempty"`
	LastMessage  *MessageSummary        `json:"lastMessage,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// MessageSummary is the denormalized last-message preview stored on the chat.
type MessageSummary struct {
	ID       string    `json:"id"`
	SenderID string    `json:"senderId"`
	Preview  string    `json:"preview"`
	SentAt   time.Time `json:"sentAt"`
}

// ChatID derives the deterministic chat id for a set of participants.
func ChatID(participants ...string) string {
	ids := make([]string, len(participants))
	copy(ids, participants)
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// UnreadFor returns the unread counter for a user, zero when absent.
func (c *Chat) UnreadFor(userID string) int {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// HasParticipant reports whether the user participates in the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
