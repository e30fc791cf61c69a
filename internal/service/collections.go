// Package service provides the client-side sync business logic: the
// friend-request engine, the message-status tracker, and chat bootstrap.
package service

// Collection names in the remote document store.
const (
	UsersCollection         = "users"
	RequestsCollection      = "friend_requests"
	RelationshipsCollection = "relationships"
	ChatsCollection         = "chats"
	MessagesCollection      = "messages"
)
