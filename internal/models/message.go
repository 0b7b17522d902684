package models

import (
	"time"
)

type DeliveryState string

const (
	DeliveryStatePending   DeliveryState = "pending"
	DeliveryStateDelivered DeliveryState = "delivered"
	DeliveryStateRead      DeliveryState = "read"
)

// rank orders delivery states for forward-only transitions.
func (s DeliveryState) rank() int {
	switch s {
	case DeliveryStatePending:
		return 0
	case DeliveryStateDelivered:
		return 1
	case DeliveryStateRead:
		return 2
	}
	return -1
}

// IsValid reports whether s is one of the known delivery states.
func (s DeliveryState) IsValid() bool {
	return s.rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Delivery state never regresses; equal states are not an advance.
func (s DeliveryState) CanAdvanceTo(next DeliveryState) bool {
	return next.IsValid() && next.rank() > s.rank()
}

// Message is the server-stamped form of a chat message. ID, SentAt and
// State are assigned by the router; client-supplied values for those
// fields are discarded at ingestion.
type Message struct {
	ID         int64         `json:"message_id" db:"id"`
	SenderID   string        `json:"sender_id" db:"sender_id"`
	ReceiverID string        `json:"receiver_id" db:"receiver_id"`
	Content    string        `json:"content" db:"content"`
	SentAt     time.Time     `json:"sent_at" db:"sent_at"`
	State      DeliveryState `json:"delivery_state" db:"delivery_state"`
}

// MessageDraft is the client-supplied portion of a message before the
// router stamps it.
type MessageDraft struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}
