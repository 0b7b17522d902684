package models

// Frame types exchanged over a chat connection.
const (
	// Client -> server
	FrameTypeSend      = "send"
	FrameTypeRead      = "read"
	FrameTypeDelivered = "delivered"

	// Server -> client
	FrameTypeMessage = "message"
	FrameTypeAck     = "ack"
	FrameTypeState   = "state"
	FrameTypeError   = "error"
)

// ClientFrame is a single inbound frame from a connected client.
type ClientFrame struct {
	Type       string `json:"type"`
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Content    string `json:"content,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
}

// ServerFrame is a single outbound frame pushed to a connected client.
type ServerFrame struct {
	Type          string        `json:"type"`
	Message       *Message      `json:"message,omitempty"`
	MessageID     int64         `json:"message_id,omitempty"`
	DeliveryState DeliveryState `json:"delivery_state,omitempty"`
	Code          string        `json:"code,omitempty"`
	Error         string        `json:"error,omitempty"`
}
