package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/internal/store"
)

// ChatService provides chat lookup and bootstrap. Chat ids are a
// deterministic function of the sorted participant ids, so ensure calls are
// idempotent and never mint random ids.
type ChatService struct {
	store  store.Store
	cache  *cache.Cache
	logger *slog.Logger
}

// NewChatService returns a new ChatService.
func NewChatService(st store.Store, c *cache.Cache, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{store: st, cache: c, logger: logger}
}

// Ensure creates the chat between the two users if it does not exist and
// returns it. profiles carries denormalized display data keyed by uid; nil
// entries are fine.
func (s *ChatService) Ensure(ctx context.Context, userA, userB string, profiles map[string]models.UserProfile) (*models.Chat, error) {
	chatID := models.ChatID(userA, userB)
	coll := s.store.Collection(ChatsCollection)

	doc, err := coll.Get(ctx, chatID)
	if err == nil {
		var chat models.Chat
		if err := doc.DataTo(&chat); err != nil {
			return nil, err
		}
		return &chat, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, models.NewRemoteUnavailableError(err)
	}

	chat := models.Chat{
		ID:           chatID,
		Participants: []string{userA, userB},
		Profiles:     profiles,
		Unread:       map[string]int{userA: 0, userB: 0},
	}
	data, err := store.Encode(chat)
	if err != nil {
		return nil, err
	}
	data["createdAt"] = store.ServerTimestamp
	data["updatedAt"] = store.ServerTimestamp
	if err := coll.Set(ctx, chatID, data); err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}

	s.cache.Invalidate(ctx, cache.ChatListKey(userA))
	s.cache.Invalidate(ctx, cache.ChatListKey(userB))

	doc, err = coll.Get(ctx, chatID)
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	out := models.Chat{}
	if err := doc.DataTo(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns the chat by id.
func (s *ChatService) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	doc, err := s.store.Collection(ChatsCollection).Get(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewNotFoundError("Chat", chatID)
	}
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	var chat models.Chat
	if err := doc.DataTo(&chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListForUser returns the user's chats ordered by latest activity, serving
// from the cache when fresh.
func (s *ChatService) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	key := cache.ChatListKey(userID)
	var chats []models.Chat
	if ok, err := s.cache.Get(ctx, key, &chats); err == nil && ok {
		return chats, nil
	}

	docs, err := s.store.Collection(ChatsCollection).Find(ctx, store.Q().
		Where("participants", store.OpContains, userID).
		OrderBy("updatedAt", true))
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	chats = make([]models.Chat, 0, len(docs))
	for _, doc := range docs {
		var chat models.Chat
		if err := doc.DataTo(&chat); err != nil {
			s.logger.Warn("chat: skipping undecodable document", "id", doc.ID, "error", err)
			continue
		}
		chats = append(chats, chat)
	}
	_ = s.cache.Set(ctx, key, chats, cache.TTLFor(cache.ClassChatList))
	return chats, nil
}

// Mute suppresses notifications for the user in the chat until the given
// time.
func (s *ChatService) Mute(ctx context.Context, chatID, userID string, until time.Time) error {
	return s.updateMeta(ctx, chatID, userID, "muteUntil."+userID, until.UTC().Format(time.RFC3339Nano))
}

// Archive sets or clears the archived flag for the user in the chat.
func (s *ChatService) Archive(ctx context.Context, chatID, userID string, archived bool) error {
	return s.updateMeta(ctx, chatID, userID, "archived."+userID, archived)
}

// SaveScrollAnchor remembers the message the user last scrolled to in a
// chat. Anchors are device-local UI state, so they live in the cache only
// and expire on their own.
func (s *ChatService) SaveScrollAnchor(ctx context.Context, userID, chatID, messageID string) {
	_ = s.cache.Set(ctx, cache.ScrollKey(userID, chatID), messageID, cache.TTLFor(cache.ClassScroll))
}

// ScrollAnchor returns the saved scroll anchor for the user in a chat, if
// one is still live.
func (s *ChatService) ScrollAnchor(ctx context.Context, userID, chatID string) (string, bool) {
	var messageID string
	ok, err := s.cache.Get(ctx, cache.ScrollKey(userID, chatID), &messageID)
	if err != nil || !ok {
		return "", false
	}
	return messageID, true
}

func (s *ChatService) updateMeta(ctx context.Context, chatID, userID, field string, value any) error {
	err := s.store.Collection(ChatsCollection).Update(ctx, chatID, map[string]any{field: value})
	if errors.Is(err, store.ErrNotFound) {
		return models.NewNotFoundError("Chat", chatID)
	}
	if err != nil {
		return models.NewRemoteUnavailableError(err)
	}
	s.cache.Invalidate(ctx, cache.ChatListKey(userID))
	return nil
}
