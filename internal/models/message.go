package models

import "time"

// MessageStatus represents the delivery status of a message. Statuses are
// monotonically non-decreasing along sending → sent → delivered → read; the
// failed branch is terminal and reachable only before sent.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	MessageStatusSending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// CanTransition reports whether a status change honors monotonicity.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	if to == MessageStatusFailed {
		return s == MessageStatusSending
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	dest, ok := statusRank[to]
	if !ok {
		return false
	}
	return dest > from
}

// ContentKind tags the message content variant.
type ContentKind string

const (
	ContentKindText   ContentKind = "text"
	ContentKindMedia  ContentKind = "media"
	ContentKindSystem ContentKind = "system"
)

// MediaContent describes an already-uploaded media attachment. Upload itself
// is outside this layer.
type MediaContent struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Content is the tagged message payload. Exactly the fields for Kind are set;
// consumers switch on Kind instead of probing optionals.
type Content struct {
	Kind   ContentKind   `json:"kind"`
	Text   string        `json:"text,omitempty"`
	Media  *MediaContent `json:"media,omitempty"`
	System string        `json:"system,omitempty"`
}

// TextContent builds a text content payload.
func TextContent(text string) Content {
	return Content{Kind: ContentKindText, Text: text}
}

// MediaContentOf builds a media content payload.
func MediaContentOf(m MediaContent) Content {
	return Content{Kind: ContentKindMedia, Media: &m}
}

// SystemContent builds a system notice payload.
func SystemContent(text string) Content {
	return Content{Kind: ContentKindSystem, System: text}
}

// Preview returns the short text shown in chat lists.
func (c Content) Preview() string {
	switch c.Kind {
	case ContentKindText:
		return c.Text
	case ContentKindMedia:
		if c.Media != nil && c.Media.Caption != "" {
			return c.Media.Caption
		}
		return "[media]"
	case ContentKindSystem:
		return c.System
	default:
		return ""
	}
}

// Message represents a chat message document.
type Message struct {
	ID       string        `json:"id"`
	ChatID   string        `json:"chatId"`
	SenderID string        `json:"senderId"`
	Content  Content       `json:"content"`
	Status   MessageStatus `json:"status"`
	SentAt   time.Time     `json:"sentAt"`
	ReadAt   time.Time     `json:"readAt,omitzero"`
}

// AddressedTo reports whether the message was sent to the given user.
// Chats are pairwise at this layer, so anything not sent by the user is
// addressed to them.
func (m *Message) AddressedTo(userID string) bool {
	return m.SenderID != userID
}
