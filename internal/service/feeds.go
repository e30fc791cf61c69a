package service

import (
	"log/slog"

	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/store"
)

// UnreadSummary is one emission of an unread feed: the total across all of a
// user's chats plus the per-chat breakdown. Each emission is a full recompute
// from the latest snapshot, never an incremental delta.
type UnreadSummary struct {
	Total   int            `json:"total"`
	PerChat map[string]int `json:"perChat"`
}

// RequestFeed emits the current set of pending friend requests whenever the
// underlying snapshot changes. A stream error is reported as an empty slice
// so the UI empties rather than shows stale rows.
type RequestFeed struct {
	sub      *store.Subscription
	updates  chan []models.FriendRequest
	feedName string
	logger   *slog.Logger
}

func newRequestFeed(sub *store.Subscription, feedName string, logger *slog.Logger) *RequestFeed {
	f := &RequestFeed{
		sub:      sub,
		updates:  make(chan []models.FriendRequest, 1),
		feedName: feedName,
		logger:   logger,
	}
	go f.run()
	return f
}

// Updates returns the channel of request sets. Only the latest set is
// retained when the consumer lags.
func (f *RequestFeed) Updates() <-chan []models.FriendRequest { return f.updates }

// Unsubscribe stops the feed and releases the underlying stream.
func (f *RequestFeed) Unsubscribe() { f.sub.Unsubscribe() }

func (f *RequestFeed) run() {
	defer close(f.updates)
	for {
		select {
		case snap, ok := <-f.sub.Events():
			if !ok {
				return
			}
			requests := make([]models.FriendRequest, 0, len(snap.Docs))
			for _, doc := range snap.Docs {
				var req models.FriendRequest
				if err := doc.DataTo(&req); err != nil {
					f.logger.Warn("feed: skipping undecodable request", "feed", f.feedName, "id", doc.ID, "error", err)
					continue
				}
				requests = append(requests, req)
			}
			f.emit(requests)
		case err, ok := <-f.sub.Err():
			if !ok {
				return
			}
			observability.SubscriptionErrors.WithLabelValues(f.feedName).Inc()
			f.logger.Warn("feed: stream error", "feed", f.feedName, "error", err)
			f.emit([]models.FriendRequest{})
		case <-f.sub.Done():
			return
		}
	}
}

func (f *RequestFeed) emit(requests []models.FriendRequest) {
	for {
		select {
		case f.updates <- requests:
			return
		default:
			select {
			case <-f.updates:
			default:
			}
		}
	}
}

// UnreadFeed emits a recomputed UnreadSummary for one user whenever any of
// their chats change.
type UnreadFeed struct {
	sub     *store.Subscription
	updates chan UnreadSummary
	userID  string
	logger  *slog.Logger
}

func newUnreadFeed(sub *store.Subscription, userID string, logger *slog.Logger) *UnreadFeed {
	f := &UnreadFeed{
		sub:     sub,
		updates: make(chan UnreadSummary, 1),
		userID:  userID,
		logger:  logger,
	}
	go f.run()
	return f
}

// Updates returns the channel of unread summaries, latest wins.
func (f *UnreadFeed) Updates() <-chan UnreadSummary { return f.updates }

// Unsubscribe stops the feed and releases the underlying stream.
func (f *UnreadFeed) Unsubscribe() { f.sub.Unsubscribe() }

func (f *UnreadFeed) run() {
	defer close(f.updates)
	for {
		select {
		case snap, ok := <-f.sub.Events():
			if !ok {
				return
			}
			observability.UnreadRecomputes.Inc()
			summary := UnreadSummary{PerChat: make(map[string]int)}
			for _, doc := range snap.Docs {
				var chat models.Chat
				if err := doc.DataTo(&chat); err != nil {
					f.logger.Warn("feed: skipping undecodable chat", "feed", "unread", "id", doc.ID, "error", err)
					continue
				}
				n := chat.UnreadFor(f.userID)
				summary.PerChat[chat.ID] = n
				summary.Total += n
			}
			f.emit(summary)
		case err, ok := <-f.sub.Err():
			if !ok {
				return
			}
			observability.SubscriptionErrors.WithLabelValues("unread").Inc()
			f.logger.Warn("feed: stream error", "feed", "unread", "error", err)
			f.emit(UnreadSummary{PerChat: map[string]int{}})
		case <-f.sub.Done():
			return
		}
	}
}

func (f *UnreadFeed) emit(summary UnreadSummary) {
	for {
		select {
		case f.updates <- summary:
			return
		default:
			select {
			case <-f.updates:
			default:
			}
		}
	}
}

// StatusFeed emits the per-message delivery status of a user's sent messages
// in one chat, keyed by message id.
type StatusFeed struct {
	sub     *store.Subscription
	updates chan map[string]models.MessageStatus
	logger  *slog.Logger
}

func newStatusFeed(sub *store.Subscription, logger *slog.Logger) *StatusFeed {
	f := &StatusFeed{
		sub:     sub,
		updates: make(chan map[string]models.MessageStatus, 1),
		logger:  logger,
	}
	go f.run()
	return f
}

// Updates returns the channel of status maps, latest wins.
func (f *StatusFeed) Updates() <-chan map[string]models.MessageStatus { return f.updates }

// Unsubscribe stops the feed and releases the underlying stream.
func (f *StatusFeed) Unsubscribe() { f.sub.Unsubscribe() }

func (f *StatusFeed) run() {
	defer close(f.updates)
	for {
		select {
		case snap, ok := <-f.sub.Events():
			if !ok {
				return
			}
			statuses := make(map[string]models.MessageStatus, len(snap.Docs))
			for _, doc := range snap.Docs {
				var msg models.Message
				if err := doc.DataTo(&msg); err != nil {
					f.logger.Warn("feed: skipping undecodable message", "feed", "status", "id", doc.ID, "error", err)
					continue
				}
				statuses[msg.ID] = msg.Status
			}
			f.emit(statuses)
		case err, ok := <-f.sub.Err():
			if !ok {
				return
			}
			observability.SubscriptionErrors.WithLabelValues("status").Inc()
			f.logger.Warn("feed: stream error", "feed", "status", "error", err)
			f.emit(map[string]models.MessageStatus{})
		case <-f.sub.Done():
			return
		}
	}
}

func (f *StatusFeed) emit(statuses map[string]models.MessageStatus) {
	for {
		select {
		case f.updates <- statuses:
			return
		default:
			select {
			case <-f.updates:
			default:
			}
		}
	}
}
