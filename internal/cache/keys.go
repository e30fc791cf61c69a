package cache

import "fmt"

const (
	profileKeyPrefix  = "profile:%s"
	chatListKeyPrefix = "chats:%s"
	messagesKeyPrefix = "chat:%s:messages"
	unreadKeyPrefix   = "unread:%s"
	chatUnreadPrefix  = "unread:%s:%s"
	presenceKeyPrefix = "presence:%s"
	scrollKeyPrefix   = "scroll:%s:%s"
	friendsKeyPrefix  = "friends:%s"
)

func ProfileKey(userID string) string {
	return fmt.Sprintf(profileKeyPrefix, userID)
}

func ChatListKey(userID string) string {
	return fmt.Sprintf(chatListKeyPrefix, userID)
}

func MessagesKey(chatID string) string {
	return fmt.Sprintf(messagesKeyPrefix, chatID)
}

func UnreadKey(userID string) string {
	return fmt.Sprintf(unreadKeyPrefix, userID)
}

func ChatUnreadKey(userID, chatID string) string {
	return fmt.Sprintf(chatUnreadPrefix, userID, chatID)
}

func PresenceKey(userID string) string {
	return fmt.Sprintf(presenceKeyPrefix, userID)
}

func ScrollKey(userID, chatID string) string {
	return fmt.Sprintf(scrollKeyPrefix, userID, chatID)
}

func FriendsKey(userID string) string {
	return fmt.Sprintf(friendsKeyPrefix, userID)
}
