package models

import "time"

// UserProfile is the denormalized display data carried on requests,
// relationships, and chats so lists render without extra lookups.
type UserProfile struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Photo       string `json:"photo,omitempty"`
	Designation string `json:"designation,omitempty"`
}

// User represents a user document in the remote store.
// The counters are denormalized and reconciled by writers; readers must not
// treat them as ground truth.
type User struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Photo       string    `json:"photo,omitempty"`
	Designation string    `json:"designation,omitempty"`
	Online      bool      `json:"online"`
	FriendCount int       `json:"friendCount"`
	ChatCount   int       `json:"chatCount"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Profile returns the denormalized display view of the user.
func (u *User) Profile() UserProfile {
	return UserProfile{
		UID:         u.UID,
		Name:        u.Name,
		Photo:       u.Photo,
		Designation: u.Designation,
	}
}
