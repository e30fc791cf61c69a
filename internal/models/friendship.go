package models

import (
	"fmt"
	"time"
)

// RequestStatus represents the status of a friend request.
type RequestStatus string

const (
	// RequestStatusPending indicates a request awaiting a decision.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusAccepted indicates an accepted request.
	RequestStatusAccepted RequestStatus = "accepted"
	// RequestStatusRejected indicates a rejected request.
	RequestStatusRejected RequestStatus = "rejected"
)

// FriendRequest represents a friend request document. Transitions are one-way
// from pending; cancellation is modeled as deletion of a pending record.
type FriendRequest struct {
	ID            string        `json:"id"`
	SenderID      string        `json:"senderId"`
	ReceiverID    string        `json:"receiverId"`
	PairKey       string        `json:"pairKey"` // senderId_receiverId, used for dedup lookups
	Status        RequestStatus `json:"status"`
	Message       string        `json:"message,omitempty"`
	SenderName    string        `json:"senderName"`
	SenderPhoto   string        `json:"senderPhoto,omitempty"`
	ReceiverName  string        `json:"receiverName,omitempty"`
	ReceiverPhoto string        `json:"receiverPhoto,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	HandledAt     time.Time     `json:"handledAt,omitzero"`
}

// PairKey builds the dedup key for an ordered (sender, receiver) pair.
func PairKey(senderID, receiverID string) string {
	return fmt.Sprintf("%s_%s", senderID, receiverID)
}

// Relationship represents one half of a friendship. A friendship is stored as
// two records, one owned by each participant, written in the same atomic
// batch as the request's accepted transition.
type Relationship struct {
	OwnerID     string    `json:"ownerId"`
	FriendID    string    `json:"friendId"`
	FriendName  string    `json:"friendName"`
	FriendPhoto string    `json:"friendPhoto,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RelationshipID is the document id of the relationship record under owner.
func RelationshipID(ownerID, friendID string) string {
	return fmt.Sprintf("%s_%s", ownerID, friendID)
}
