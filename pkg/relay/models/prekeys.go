package models

import "time"

// SignedPreKey is a medium-lived X25519 public key signed by the owner's
// identity key. The latest one per user is served in every pre-key
// bundle; older rows are retained up to SignedPreKeyRetention so
// in-flight handshakes against a rotated key can still complete.
type SignedPreKey struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"uniqueIndex:idx_spk_user_key;not null;size:36" json:"user_id"`
	KeyID     uint32    `gorm:"uniqueIndex:idx_spk_user_key;not null" json:"key_id"`
	PublicKey string    `gorm:"not null" json:"public_key"`
	Signature string    `gorm:"not null" json:"signature"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for SignedPreKey.
func (SignedPreKey) TableName() string {
	return "signed_pre_keys"
}

// SignedPreKeyRetention is how many signed pre-keys are kept per user.
const SignedPreKeyRetention = 5

// OneTimePreKey is a single-use X25519 public key. A bundle fetch that
// includes one deletes the row in the same transaction, so no two
// handshakes ever consume the same key.
type OneTimePreKey struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"uniqueIndex:idx_otk_user_key;not null;size:36" json:"user_id"`
	KeyID     uint32    `gorm:"uniqueIndex:idx_otk_user_key;not null" json:"key_id"`
	PublicKey string    `gorm:"not null" json:"public_key"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for OneTimePreKey.
func (OneTimePreKey) TableName() string {
	return "one_time_pre_keys"
}
