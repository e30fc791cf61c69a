package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/internal/store"
)

// FriendService drives the friend-request lifecycle: pending → accepted or
// rejected, with cancellation (deletion) allowed only while pending.
type FriendService struct {
	store  store.Store
	cache  *cache.Cache
	chats  *ChatService
	logger *slog.Logger
}

// NewFriendService returns a new FriendService.
func NewFriendService(st store.Store, c *cache.Cache, chats *ChatService, logger *slog.Logger) *FriendService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FriendService{store: st, cache: c, chats: chats, logger: logger}
}

// SendRequest creates a pending friend request from sender to receiver.
// The duplicate check and the write are not one transaction: two concurrent
// senders of the same pair can both pass the check. The dedup key is still
// written so a store-side uniqueness constraint can close the race without a
// client change.
func (s *FriendService) SendRequest(ctx context.Context, senderID, receiverID string, sender models.UserProfile, receiver *models.UserProfile, message string) (*models.FriendRequest, error) {
	if senderID == receiverID {
		return nil, models.NewSelfRequestError()
	}

	coll := s.store.Collection(RequestsCollection)
	existing, err := coll.Find(ctx, store.Q().
		Where("pairKey", store.OpEq, models.PairKey(senderID, receiverID)).
		Where("status", store.OpIn, []string{string(models.RequestStatusPending), string(models.RequestStatusAccepted)}))
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	for _, doc := range existing {
		var req models.FriendRequest
		if err := doc.DataTo(&req); err != nil {
			continue
		}
		switch req.Status {
		case models.RequestStatusAccepted:
			return nil, models.NewAlreadyFriendsError(senderID, receiverID)
		case models.RequestStatusPending:
			return nil, models.NewDuplicateRequestError(senderID, receiverID)
		}
	}

	request := models.FriendRequest{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		PairKey:     models.PairKey(senderID, receiverID),
		Status:      models.RequestStatusPending,
		Message:     message,
		SenderName:  sender.Name,
		SenderPhoto: sender.Photo,
	}
	if receiver != nil {
		request.ReceiverName = receiver.Name
		request.ReceiverPhoto = receiver.Photo
	}
	data, err := store.Encode(request)
	if err != nil {
		return nil, err
	}
	data["createdAt"] = store.ServerTimestamp
	if err := coll.Set(ctx, request.ID, data); err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}

	doc, err := coll.Get(ctx, request.ID)
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	out := models.FriendRequest{}
	if err := doc.DataTo(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptRequest transitions a pending request to accepted. One atomic batch
// writes the status change and the symmetric relationship pair; if it fails
// the request stays pending and no relationship exists. Chat creation is a
// best-effort side effect after the batch commits.
func (s *FriendService) AcceptRequest(ctx context.Context, requestID, currentUserID string) error {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ReceiverID != currentUserID {
		return models.NewForbiddenError("Only the receiver can accept a friend request")
	}
	if req.Status != models.RequestStatusPending {
		return models.NewAlreadyProcessedError(requestID)
	}

	senderRecord, err := store.Encode(models.Relationship{
		OwnerID:     req.SenderID,
		FriendID:    req.ReceiverID,
		FriendName:  req.ReceiverName,
		FriendPhoto: req.ReceiverPhoto,
	})
	if err != nil {
		return err
	}
	receiverRecord, err := store.Encode(models.Relationship{
		OwnerID:     req.ReceiverID,
		FriendID:    req.SenderID,
		FriendName:  req.SenderName,
		FriendPhoto: req.SenderPhoto,
	})
	if err != nil {
		return err
	}
	senderRecord["createdAt"] = store.ServerTimestamp
	receiverRecord["createdAt"] = store.ServerTimestamp

	batch := s.store.Batch().
		Update(RequestsCollection, requestID, map[string]any{
			"status":    string(models.RequestStatusAccepted),
			"handledAt": store.ServerTimestamp,
		}).
		Set(RelationshipsCollection, models.RelationshipID(req.SenderID, req.ReceiverID), senderRecord).
		Set(RelationshipsCollection, models.RelationshipID(req.ReceiverID, req.SenderID), receiverRecord)
	if err := batch.Commit(ctx); err != nil {
		return models.NewRemoteUnavailableError(err)
	}

	s.cache.Invalidate(ctx, cache.FriendsKey(req.SenderID))
	s.cache.Invalidate(ctx, cache.FriendsKey(req.ReceiverID))

	// Chat creation must not roll back an already-committed acceptance.
	profiles := map[string]models.UserProfile{
		req.SenderID:   {UID: req.SenderID, Name: req.SenderName, Photo: req.SenderPhoto},
		req.ReceiverID: {UID: req.ReceiverID, Name: req.ReceiverName, Photo: req.ReceiverPhoto},
	}
	if _, err := s.chats.Ensure(ctx, req.SenderID, req.ReceiverID, profiles); err != nil {
		s.logger.Warn("friend: chat creation after acceptance failed",
			"request", requestID, "sender", req.SenderID, "receiver", req.ReceiverID, "error", err)
	}
	return nil
}

// RejectRequest transitions a pending request to rejected. Ownership is left
// to the store's access-control layer.
func (s *FriendService) RejectRequest(ctx context.Context, requestID string) error {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestStatusPending {
		return models.NewAlreadyProcessedError(requestID)
	}
	err = s.store.Collection(RequestsCollection).Update(ctx, requestID, map[string]any{
		"status":    string(models.RequestStatusRejected),
		"handledAt": store.ServerTimestamp,
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.NewNotFoundError("Friend request", requestID)
	}
	if err != nil {
		return models.NewRemoteUnavailableError(err)
	}
	return nil
}

// CancelRequest deletes a pending request; the sender's "withdraw" action.
func (s *FriendService) CancelRequest(ctx context.Context, requestID string) error {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestStatusPending {
		return models.NewAlreadyProcessedError(requestID)
	}
	if err := s.store.Collection(RequestsCollection).Delete(ctx, requestID); err != nil {
		return models.NewRemoteUnavailableError(err)
	}
	return nil
}

// AreFriends reports whether a relationship record exists under either user.
// Two independent reads, not a transaction; relationship writes are
// idempotent and duplicated, so either record being present is enough.
func (s *FriendService) AreFriends(ctx context.Context, userA, userB string) (bool, error) {
	coll := s.store.Collection(RelationshipsCollection)
	var lastErr error
	for _, id := range []string{models.RelationshipID(userA, userB), models.RelationshipID(userB, userA)} {
		_, err := coll.Get(ctx, id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return false, models.NewRemoteUnavailableError(lastErr)
	}
	return false, nil
}

// ListFriends returns the user's relationship records, newest first, serving
// from the cache when fresh.
func (s *FriendService) ListFriends(ctx context.Context, userID string) ([]models.Relationship, error) {
	key := cache.FriendsKey(userID)
	var friends []models.Relationship
	if ok, err := s.cache.Get(ctx, key, &friends); err == nil && ok {
		return friends, nil
	}

	docs, err := s.store.Collection(RelationshipsCollection).Find(ctx, store.Q().
		Where("ownerId", store.OpEq, userID).
		OrderBy("createdAt", true))
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	friends = make([]models.Relationship, 0, len(docs))
	for _, doc := range docs {
		var rel models.Relationship
		if err := doc.DataTo(&rel); err != nil {
			s.logger.Warn("friend: skipping undecodable relationship", "id", doc.ID, "error", err)
			continue
		}
		friends = append(friends, rel)
	}
	_ = s.cache.Set(ctx, key, friends, cache.TTLFor(cache.ClassProfile))
	return friends, nil
}

// RemoveFriend deletes both relationship records in one batch.
func (s *FriendService) RemoveFriend(ctx context.Context, userID, friendID string) error {
	ok, err := s.AreFriends(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewNotFoundError("Friendship", models.RelationshipID(userID, friendID))
	}
	batch := s.store.Batch().
		Delete(RelationshipsCollection, models.RelationshipID(userID, friendID)).
		Delete(RelationshipsCollection, models.RelationshipID(friendID, userID))
	if err := batch.Commit(ctx); err != nil {
		return models.NewRemoteUnavailableError(err)
	}
	s.cache.Invalidate(ctx, cache.FriendsKey(userID))
	s.cache.Invalidate(ctx, cache.FriendsKey(friendID))
	return nil
}

// PendingCount returns the number of requests waiting on the user.
func (s *FriendService) PendingCount(ctx context.Context, userID string) (int, error) {
	docs, err := s.store.Collection(RequestsCollection).Find(ctx, pendingQuery("receiverId", userID))
	if err != nil {
		return 0, models.NewRemoteUnavailableError(err)
	}
	return len(docs), nil
}

// SubscribeReceived subscribes to the user's incoming pending requests,
// newest first.
func (s *FriendService) SubscribeReceived(ctx context.Context, userID string) (*RequestFeed, error) {
	return s.subscribeRequests(ctx, pendingQuery("receiverId", userID), "requests_received")
}

// SubscribeSent subscribes to the user's outgoing pending requests, newest
// first.
func (s *FriendService) SubscribeSent(ctx context.Context, userID string) (*RequestFeed, error) {
	return s.subscribeRequests(ctx, pendingQuery("senderId", userID), "requests_sent")
}

func pendingQuery(field, userID string) store.Query {
	return store.Q().
		Where(field, store.OpEq, userID).
		Where("status", store.OpEq, string(models.RequestStatusPending)).
		OrderBy("createdAt", true)
}

func (s *FriendService) subscribeRequests(ctx context.Context, q store.Query, feedName string) (*RequestFeed, error) {
	sub, err := s.store.Collection(RequestsCollection).WatchFind(ctx, q)
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	return newRequestFeed(sub, feedName, s.logger), nil
}

func (s *FriendService) getRequest(ctx context.Context, requestID string) (*models.FriendRequest, error) {
	doc, err := s.store.Collection(RequestsCollection).Get(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewNotFoundError("Friend request", requestID)
	}
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	var req models.FriendRequest
	if err := doc.DataTo(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
