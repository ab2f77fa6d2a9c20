package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently
// across log statements so aggregated logs stay queryable.
const (
	// Request handling
	KeyRequestID = "request_id" // Router-assigned request id
	KeyMethod    = "method"     // HTTP method
	KeyPath      = "path"       // Request path
	KeyStatus    = "status"     // HTTP status code

	// Client identification
	KeyClientIP = "client_ip" // Client IP address
	KeyUsername = "username"  // Username (registration and login paths)
	KeyUserID   = "user_id"   // User id
	KeyDeviceID = "device_id" // Device id (client-generated)
	KeySocketID = "socket_id" // Socket id in the session registry

	// Relay
	KeyRecipientID = "recipient_id" // Message recipient user id
	KeySenderID    = "sender_id"    // Message sender user id
	KeyMessageID   = "message_id"   // Queued message id
	KeyMessageType = "message_type" // signal_message, pre_key_signal_message, key_exchange
	KeyDelivered   = "delivered"    // Whether the message was pushed live
	KeyCount       = "count"        // Generic row/entry count

	// Key directory
	KeyKeyID = "key_id" // Pre-key id

	// Blob store
	KeyBucket = "bucket" // S3 bucket name
	KeyObject = "object" // Object key

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyJob        = "job"         // Background job name
)

// RequestID returns a slog.Attr for the router-assigned request id
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Username returns a slog.Attr for username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// UserID returns a slog.Attr for user id
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// DeviceID returns a slog.Attr for device id
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// SocketID returns a slog.Attr for socket id
func SocketID(id string) slog.Attr {
	return slog.String(KeySocketID, id)
}

// MessageID returns a slog.Attr for queued message id
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// MessageType returns a slog.Attr for the relayed message type
func MessageType(t string) slog.Attr {
	return slog.String(KeyMessageType, t)
}

// Count returns a slog.Attr for a row/entry count
func Count(n int64) slog.Attr {
	return slog.Int64(KeyCount, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Job returns a slog.Attr for a background job name
func Job(name string) slog.Attr {
	return slog.String(KeyJob, name)
}
