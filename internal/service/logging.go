package service

// Standard log field names used across the application. Use these exact
// names so log entries stay queryable.
const (
	// Core identifiers
	LogFieldMessageID  = "message_id"
	LogFieldSenderID   = "sender_id"
	LogFieldReceiverID = "receiver_id"
	LogFieldIdentity   = "identity"

	// Service and operation fields
	LogFieldMethod = "method"

	// Message lifecycle
	LogFieldDeliveryState = "delivery_state"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Tracing
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"
)
