// Package client wires the store, cache and services into one explicitly
// constructed container. Nothing here is a package-level singleton; callers
// own the Client's lifetime.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/config"
	"chatsync/internal/kv"
	"chatsync/internal/service"
	"chatsync/internal/store"
)

// Client is the assembled synchronization layer for one device session.
type Client struct {
	Store    store.Store
	Cache    *cache.Cache
	Friends  *service.FriendService
	Chats    *service.ChatService
	Messages *service.MessageService
	Users    *service.UserService

	durable kv.Store
	logger  *slog.Logger
}

// Options controls construction. A nil Store falls back to the configured
// MongoDB backend; Offline forces the in-memory store regardless of config.
type Options struct {
	Config  *config.Config
	Store   store.Store
	Logger  *slog.Logger
	Offline bool
}

// New builds a Client from opts. The durable cache tier is chosen by
// CACHE_BACKEND; an unavailable tier degrades to memory-only caching with a
// warning rather than failing construction.
func New(ctx context.Context, opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.LoadConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := opts.Store
	if st == nil {
		if opts.Offline {
			st = store.NewMemory()
		} else {
			mongo, err := store.NewMongo(ctx, store.MongoConfig{
				URI:            cfg.MongoURI,
				Database:       cfg.MongoDatabase,
				ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("connect document store: %w", err)
			}
			st = mongo
		}
	}

	durable := openDurable(cfg, logger)
	c := cache.New(durable, logger)

	chats := service.NewChatService(st, c, logger)
	client := &Client{
		Store:    st,
		Cache:    c,
		Chats:    chats,
		Friends:  service.NewFriendService(st, c, chats, logger),
		Messages: service.NewMessageService(st, c, logger),
		Users:    service.NewUserService(st, c, logger),
		durable:  durable,
		logger:   logger,
	}
	return client, nil
}

func openDurable(cfg *config.Config, logger *slog.Logger) kv.Store {
	switch cfg.CacheBackend {
	case "redis":
		durable, err := kv.NewRedis(cfg.RedisAddr)
		if err != nil {
			logger.Warn("client: redis cache unavailable, running memory-only", "addr", cfg.RedisAddr, "error", err)
			return nil
		}
		return durable
	case "sqlite":
		durable, err := kv.NewSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Warn("client: sqlite cache unavailable, running memory-only", "path", cfg.SQLitePath, "error", err)
			return nil
		}
		return durable
	default:
		return nil
	}
}

// SignOut clears every cached entry for the session. The remote connection
// stays open so a different account can sign in on the same Client.
func (c *Client) SignOut(ctx context.Context) {
	c.Cache.InvalidateAll(ctx)
}

// Close releases the cache tier and the remote connection.
func (c *Client) Close(ctx context.Context) error {
	c.Cache.InvalidateAll(ctx)
	var firstErr error
	if c.durable != nil {
		if err := c.durable.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.Store.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
