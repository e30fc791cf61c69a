package cache

import "time"

// Class groups cache keys by how stale their data may go. Memory TTLs are
// always at or below the durable TTL for the same class, so the memory tier
// expires first and forces a durable or remote refresh.
type Class int

const (
	// ClassProfile covers identity and profile data.
	ClassProfile Class = iota
	// ClassChatList covers chat list snapshots.
	ClassChatList
	// ClassMessages covers message history pages.
	ClassMessages
	// ClassUnread covers unread counters.
	ClassUnread
	// ClassPresence covers online flags.
	ClassPresence
	// ClassScroll covers scroll-position bookkeeping.
	ClassScroll
)

// TTL is the expiry pair for one entry: the memory tier and the durable tier.
type TTL struct {
	Memory  time.Duration
	Durable time.Duration
}

var policies = map[Class]TTL{
	ClassProfile:  {Memory: 30 * time.Minute, Durable: time.Hour},
	ClassChatList: {Memory: 5 * time.Minute, Durable: 15 * time.Minute},
	ClassMessages: {Memory: 2 * time.Minute, Durable: 10 * time.Minute},
	ClassUnread:   {Memory: 30 * time.Second, Durable: 60 * time.Second},
	ClassPresence: {Memory: 15 * time.Second, Durable: 30 * time.Second},
	ClassScroll:   {Memory: 30 * time.Minute, Durable: 24 * time.Hour},
}

// TTLFor returns the expiry policy for a key class.
func TTLFor(c Class) TTL {
	if ttl, ok := policies[c]; ok {
		return ttl
	}
	return TTL{Memory: time.Minute, Durable: 5 * time.Minute}
}

// OverrideTTL replaces the policy for a key class. Call it during startup,
// before any cache is in use; a memory TTL above the durable TTL is clamped.
func OverrideTTL(c Class, ttl TTL) {
	if ttl.Memory > ttl.Durable {
		ttl.Memory = ttl.Durable
	}
	policies[c] = ttl
}
