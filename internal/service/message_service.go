package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/store"
)

// MessageService sends messages and tracks their delivery status together
// with the per-chat unread counters kept on the chat document.
type MessageService struct {
	store  store.Store
	cache  *cache.Cache
	logger *slog.Logger
}

// NewMessageService returns a new MessageService.
func NewMessageService(st store.Store, c *cache.Cache, logger *slog.Logger) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{store: st, cache: c, logger: logger}
}

// SendMessage writes a message and bumps the chat's last-message summary and
// the unread counters of every other participant in one batch. The message
// appears in the local cache immediately and is removed again if the commit
// fails.
func (s *MessageService) SendMessage(ctx context.Context, chatID, senderID string, content models.Content) (*models.Message, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, models.NewForbiddenError("Sender is not a participant of this chat")
	}

	msg := models.Message{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		Status:   models.MessageStatusSending,
		SentAt:   time.Now().UTC(),
	}
	if err := s.cache.OverlayAppend(cache.MessagesKey(chatID), msg); err != nil {
		s.logger.Warn("message: optimistic append failed", "chat", chatID, "error", err)
	}

	data, err := store.Encode(msg)
	if err != nil {
		return nil, err
	}
	data["status"] = string(models.MessageStatusSent)
	data["sentAt"] = store.ServerTimestamp

	chatUpdate := map[string]any{
		"lastMessage": map[string]any{
			"id":       msg.ID,
			"senderId": senderID,
			"preview":  content.Preview(),
			"sentAt":   store.ServerTimestamp,
		},
		"updatedAt": store.ServerTimestamp,
	}
	for _, p := range chat.Participants {
		if p != senderID {
			chatUpdate["unread."+p] = store.Increment(1)
		}
	}

	batch := s.store.Batch().
		Set(MessagesCollection, msg.ID, data).
		Update(ChatsCollection, chatID, chatUpdate)
	if err := batch.Commit(ctx); err != nil {
		if rmErr := s.cache.OverlayRemove(cache.MessagesKey(chatID), func(item any) bool {
			m, ok := item.(models.Message)
			return ok && m.ID == msg.ID
		}); rmErr != nil {
			s.logger.Warn("message: optimistic rollback failed", "chat", chatID, "message", msg.ID, "error", rmErr)
		}
		return nil, models.NewRemoteUnavailableError(err)
	}

	msg.Status = models.MessageStatusSent
	// The committed message supersedes the optimistic copy.
	s.cache.Invalidate(ctx, cache.MessagesKey(chatID))
	s.cache.Invalidate(ctx, cache.ChatUnreadKey(senderID, chatID))
	for _, p := range chat.Participants {
		s.cache.Invalidate(ctx, cache.ChatListKey(p))
		if p != senderID {
			s.cache.Invalidate(ctx, cache.UnreadKey(p))
			s.cache.Invalidate(ctx, cache.ChatUnreadKey(p, chatID))
		}
	}
	return &msg, nil
}

// Messages returns the chat's most recent messages in send order, serving
// from the cache when fresh. limit <= 0 means no limit.
func (s *MessageService) Messages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	key := cache.MessagesKey(chatID)
	var msgs []models.Message
	if ok, err := s.cache.Get(ctx, key, &msgs); err == nil && ok {
		return msgs, nil
	}

	q := store.Q().
		Where("chatId", store.OpEq, chatID).
		OrderBy("sentAt", false)
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs, err := s.store.Collection(MessagesCollection).Find(ctx, q)
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	msgs = make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		var m models.Message
		if err := doc.DataTo(&m); err != nil {
			s.logger.Warn("message: skipping undecodable message", "id", doc.ID, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	_ = s.cache.Set(ctx, key, msgs, cache.TTLFor(cache.ClassMessages))
	return msgs, nil
}

// MarkChatRead marks every sent or delivered message addressed to the user
// as read and zeroes the user's unread counter, all in one batch. Calling it
// on an already-read chat is a no-op.
func (s *MessageService) MarkChatRead(ctx context.Context, chatID, userID string) error {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return models.NewForbiddenError("User is not a participant of this chat")
	}

	docs, err := s.store.Collection(MessagesCollection).Find(ctx, store.Q().
		Where("chatId", store.OpEq, chatID).
		Where("status", store.OpIn, []string{string(models.MessageStatusSent), string(models.MessageStatusDelivered)}))
	if err != nil {
		return models.NewRemoteUnavailableError(err)
	}

	batch := s.store.Batch()
	for _, doc := range docs {
		var m models.Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		if !m.AddressedTo(userID) {
			continue
		}
		batch.Update(MessagesCollection, m.ID, map[string]any{
			"status": string(models.MessageStatusRead),
			"readAt": store.ServerTimestamp,
		})
	}
	if batch.Len() == 0 && chat.UnreadFor(userID) == 0 {
		return nil
	}
	batch.Update(ChatsCollection, chatID, map[string]any{
		"unread." + userID:     0,
		"lastReadAt." + userID: store.ServerTimestamp,
	})
	if err := batch.Commit(ctx); err != nil {
		return models.NewRemoteUnavailableError(err)
	}

	s.cache.Invalidate(ctx, cache.MessagesKey(chatID))
	s.cache.Invalidate(ctx, cache.UnreadKey(userID))
	s.cache.Invalidate(ctx, cache.ChatUnreadKey(userID, chatID))
	return nil
}

// MarkMessagesRead marks the given messages read and decrements the user's
// unread counter by the number of messages actually transitioned, never below
// zero.
func (s *MessageService) MarkMessagesRead(ctx context.Context, chatID, userID string, messageIDs []string) error {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return models.NewForbiddenError("User is not a participant of this chat")
	}

	coll := s.store.Collection(MessagesCollection)
	batch := s.store.Batch()
	transitioned := 0
	for _, id := range messageIDs {
		doc, err := coll.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.NewRemoteUnavailableError(err)
		}
		var m models.Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		if m.ChatID != chatID || !m.AddressedTo(userID) || !m.Status.CanTransition(models.MessageStatusRead) {
			continue
		}
		batch.Update(MessagesCollection, m.ID, map[string]any{
			"status": string(models.MessageStatusRead),
			"readAt": store.ServerTimestamp,
		})
		transitioned++
	}
	if transitioned == 0 {
		return nil
	}

	remaining := chat.UnreadFor(userID) - transitioned
	if remaining < 0 {
		remaining = 0
	}
	batch.Update(ChatsCollection, chatID, map[string]any{"unread." + userID: remaining})
	if err := batch.Commit(ctx); err != nil {
		return models.NewRemoteUnavailableError(err)
	}

	s.cache.Invalidate(ctx, cache.MessagesKey(chatID))
	s.cache.Invalidate(ctx, cache.UnreadKey(userID))
	s.cache.Invalidate(ctx, cache.ChatUnreadKey(userID, chatID))
	return nil
}

// MarkDelivered advances a message to delivered if its status allows it.
// Delivery receipts are best effort; failures are logged, never raised.
func (s *MessageService) MarkDelivered(ctx context.Context, messageID string) {
	doc, err := s.store.Collection(MessagesCollection).Get(ctx, messageID)
	if err != nil {
		s.logger.Debug("message: delivery receipt lookup failed", "message", messageID, "error", err)
		return
	}
	var m models.Message
	if err := doc.DataTo(&m); err != nil {
		s.logger.Debug("message: delivery receipt decode failed", "message", messageID, "error", err)
		return
	}
	if !m.Status.CanTransition(models.MessageStatusDelivered) {
		return
	}
	err = s.store.Collection(MessagesCollection).Update(ctx, messageID, map[string]any{
		"status": string(models.MessageStatusDelivered),
	})
	if err != nil {
		s.logger.Debug("message: delivery receipt update failed", "message", messageID, "error", err)
	}
}

// UnreadCount returns the user's unread counter for one chat.
func (s *MessageService) UnreadCount(ctx context.Context, chatID, userID string) (int, error) {
	key := cache.ChatUnreadKey(userID, chatID)
	var count int
	if ok, err := s.cache.Get(ctx, key, &count); err == nil && ok {
		return count, nil
	}
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return 0, err
	}
	count = chat.UnreadFor(userID)
	_ = s.cache.Set(ctx, key, count, cache.TTLFor(cache.ClassUnread))
	return count, nil
}

// TotalUnread sums the user's unread counters across all their chats.
func (s *MessageService) TotalUnread(ctx context.Context, userID string) (int, error) {
	key := cache.UnreadKey(userID)
	var total int
	if ok, err := s.cache.Get(ctx, key, &total); err == nil && ok {
		return total, nil
	}

	docs, err := s.store.Collection(ChatsCollection).Find(ctx, store.Q().
		Where("participants", store.OpContains, userID))
	if err != nil {
		return 0, models.NewRemoteUnavailableError(err)
	}
	total = 0
	for _, doc := range docs {
		var chat models.Chat
		if err := doc.DataTo(&chat); err != nil {
			continue
		}
		total += chat.UnreadFor(userID)
	}
	_ = s.cache.Set(ctx, key, total, cache.TTLFor(cache.ClassUnread))
	return total, nil
}

// RecountUnread recomputes the user's counter for one chat from the actual
// unread messages and repairs the chat document when the two disagree. The
// counter is a denormalization; recounting restores the invariant after a
// missed or duplicated increment.
func (s *MessageService) RecountUnread(ctx context.Context, chatID, userID string) (int, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	docs, err := s.store.Collection(MessagesCollection).Find(ctx, store.Q().
		Where("chatId", store.OpEq, chatID).
		Where("status", store.OpIn, []string{string(models.MessageStatusSent), string(models.MessageStatusDelivered)}))
	if err != nil {
		return 0, models.NewRemoteUnavailableError(err)
	}
	actual := 0
	for _, doc := range docs {
		var m models.Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		if m.AddressedTo(userID) {
			actual++
		}
	}

	if actual != chat.UnreadFor(userID) {
		observability.UnreadRecomputes.Inc()
		s.logger.Info("message: repairing unread counter",
			"chat", chatID, "user", userID, "stored", chat.UnreadFor(userID), "actual", actual)
		err := s.store.Collection(ChatsCollection).Update(ctx, chatID, map[string]any{
			"unread." + userID: actual,
		})
		if err != nil {
			return 0, models.NewRemoteUnavailableError(err)
		}
		s.cache.Invalidate(ctx, cache.UnreadKey(userID))
		s.cache.Invalidate(ctx, cache.ChatUnreadKey(userID, chatID))
	}
	return actual, nil
}

// SubscribeUnread subscribes to the user's unread totals. Each chat change
// triggers a full recompute from the snapshot.
func (s *MessageService) SubscribeUnread(ctx context.Context, userID string) (*UnreadFeed, error) {
	sub, err := s.store.Collection(ChatsCollection).WatchFind(ctx, store.Q().
		Where("participants", store.OpContains, userID))
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	return newUnreadFeed(sub, userID, s.logger), nil
}

// SubscribeStatus subscribes to the delivery statuses of the user's own
// messages in one chat.
func (s *MessageService) SubscribeStatus(ctx context.Context, chatID, senderID string) (*StatusFeed, error) {
	sub, err := s.store.Collection(MessagesCollection).WatchFind(ctx, store.Q().
		Where("chatId", store.OpEq, chatID).
		Where("senderId", store.OpEq, senderID))
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	return newStatusFeed(sub, s.logger), nil
}

func (s *MessageService) getChat(ctx context.Context, chatID string) (*models.Chat, error) {
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
