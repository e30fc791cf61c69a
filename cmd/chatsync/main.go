// Command chatsync runs a scripted demonstration session against the
// synchronization layer: two demo users become friends, exchange messages
// and watch their unread totals update live.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatsync/internal/client"
	"chatsync/internal/config"
	"chatsync/internal/models"
)

func main() {
	offline := flag.Bool("offline", false, "use the in-memory store instead of MongoDB")
	flag.Parse()

	cfg := config.LoadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := client.New(ctx, client.Options{Config: cfg, Logger: logger, Offline: *offline})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := c.Close(shutdownCtx); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	if err := runDemo(ctx, c, logger); err != nil {
		log.Fatalf("Demo session failed: %v", err)
	}
}

func runDemo(ctx context.Context, c *client.Client, logger *slog.Logger) error {
	alice := models.UserProfile{UID: "alice", Name: "Alice", Photo: "https://example.com/alice.png"}
	bob := models.UserProfile{UID: "bob", Name: "Bob", Photo: "https://example.com/bob.png"}

	unreadFeed, err := c.Messages.SubscribeUnread(ctx, bob.UID)
	if err != nil {
		return err
	}
	defer unreadFeed.Unsubscribe()
	go func() {
		for summary := range unreadFeed.Updates() {
			logger.Info("bob unread changed", "total", summary.Total)
		}
	}()

	req, err := c.Friends.SendRequest(ctx, alice.UID, bob.UID, alice, &bob, "Hi Bob, let's chat")
	if err != nil && !models.IsCode(err, models.CodeDuplicateRequest) && !models.IsCode(err, models.CodeAlreadyFriends) {
		return err
	}
	if req != nil {
		logger.Info("friend request sent", "id", req.ID)
		if err := c.Friends.AcceptRequest(ctx, req.ID, bob.UID); err != nil {
			return err
		}
		logger.Info("friend request accepted")
	}

	chat, err := c.Chats.Ensure(ctx, alice.UID, bob.UID, map[string]models.UserProfile{
		alice.UID: alice,
		bob.UID:   bob,
	})
	if err != nil {
		return err
	}

	for _, text := range []string{"Hey Bob!", "Are you around?"} {
		if _, err := c.Messages.SendMessage(ctx, chat.ID, alice.UID, models.TextContent(text)); err != nil {
			return err
		}
	}
	total, err := c.Messages.TotalUnread(ctx, bob.UID)
	if err != nil {
		return err
	}
	logger.Info("after sending", "bobUnread", total)

	if err := c.Messages.MarkChatRead(ctx, chat.ID, bob.UID); err != nil {
		return err
	}
	msgs, err := c.Messages.Messages(ctx, chat.ID, 50)
	if err != nil {
		return err
	}
	logger.Info("chat history", "chat", chat.ID, "messages", len(msgs))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
