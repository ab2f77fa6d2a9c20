package models

import "time"

// MessageType classifies a relayed ciphertext for the recipient's
// session state machine. The server treats the payload as opaque bytes
// either way.
type MessageType string

const (
	// MessageTypeSignal is a regular Double-Ratchet message.
	MessageTypeSignal MessageType = "signal_message"
	// MessageTypePreKeySignal is the first message of a session,
	// carrying the X3DH handshake alongside the ciphertext.
	MessageTypePreKeySignal MessageType = "pre_key_signal_message"
	// MessageTypeKeyExchange is a bare key-exchange message.
	MessageTypeKeyExchange MessageType = "key_exchange"
)

// IsValid checks if the type is a known MessageType.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeSignal, MessageTypePreKeySignal, MessageTypeKeyExchange:
		return true
	}
	return false
}

// QueuedMessage is a ciphertext parked for an offline recipient.
//
// Rows are drained oldest-first by the fetch-and-delete endpoint and
// reaped once ExpiresAt passes. FileReference is reserved for a planned
// attachment message type; the relay never populates it but returns it
// on drain so clients can already parse the field.
type QueuedMessage struct {
	ID               string      `gorm:"primaryKey;size:36" json:"id"`
	RecipientID      string      `gorm:"index:idx_queue_recipient_created;not null;size:36" json:"recipient_id"`
	SenderID         string      `gorm:"index;not null;size:36" json:"sender_id"`
	EncryptedPayload []byte      `gorm:"not null" json:"-"`
	MessageType      MessageType `gorm:"not null;size:32;default:signal_message" json:"message_type"`
	FileReference    string      `gorm:"size:512" json:"file_reference,omitempty"`
	CreatedAt        time.Time   `gorm:"autoCreateTime;index:idx_queue_recipient_created" json:"created_at"`
	ExpiresAt        time.Time   `gorm:"index;not null" json:"expires_at"`
}

// TableName returns the table name for QueuedMessage.
func (QueuedMessage) TableName() string {
	return "queued_messages"
}

// QueuedMessageTTL is how long an undelivered message stays queued.
const QueuedMessageTTL = 30 * 24 * time.Hour
