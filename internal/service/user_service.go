package service

import (
	"context"
	"errors"
	"log/slog"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/internal/store"
)

// UserService reads user documents and keeps short-lived presence and profile
// caches in front of them.
type UserService struct {
	store  store.Store
	cache  *cache.Cache
	logger *slog.Logger
}

// NewUserService returns a new UserService.
func NewUserService(st store.Store, c *cache.Cache, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{store: st, cache: c, logger: logger}
}

// Profile returns the user's display profile, serving from the cache when
// fresh.
func (s *UserService) Profile(ctx context.Context, userID string) (models.UserProfile, error) {
	key := cache.ProfileKey(userID)
	var profile models.UserProfile
	if ok, err := s.cache.Get(ctx, key, &profile); err == nil && ok {
		return profile, nil
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return models.UserProfile{}, err
	}
	profile = user.Profile()
	_ = s.cache.Set(ctx, key, profile, cache.TTLFor(cache.ClassProfile))
	return profile, nil
}

// SetOnline reports the user's own presence to the store.
func (s *UserService) SetOnline(ctx context.Context, userID string, online bool) error {
	err := s.store.Collection(UsersCollection).Update(ctx, userID, map[string]any{
		"online":     online,
		"lastSeenAt": store.ServerTimestamp,
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.NewNotFoundError("User", userID)
	}
	if err != nil {
		return models.NewRemoteUnavailableError(err)
	}
	s.cache.Invalidate(ctx, cache.PresenceKey(userID))
	return nil
}

// IsOnline returns another user's presence flag. The cache TTL is short so a
// stale flag self-corrects within seconds.
func (s *UserService) IsOnline(ctx context.Context, userID string) (bool, error) {
	key := cache.PresenceKey(userID)
	var online bool
	if ok, err := s.cache.Get(ctx, key, &online); err == nil && ok {
		return online, nil
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return false, err
	}
	_ = s.cache.Set(ctx, key, user.Online, cache.TTLFor(cache.ClassPresence))
	return user.Online, nil
}

func (s *UserService) getUser(ctx context.Context, userID string) (*models.User, error) {
	doc, err := s.store.Collection(UsersCollection).Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewNotFoundError("User", userID)
	}
	if err != nil {
		return nil, models.NewRemoteUnavailableError(err)
	}
	var user models.User
	if err := doc.DataTo(&user); err != nil {
		return nil, err
	}
	return &user, nil
}
