package models

import "time"

// User is a registered account in the key directory.
//
// The identity public key is the user's long-lived Ed25519 key, stored
// base64-encoded exactly as the client uploaded it. The server never
// derives session material from it; it only verifies challenge
// signatures against it. A key may be rotated but is never shared
// between users.
type User struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	Username          string    `gorm:"uniqueIndex;not null;size:255" json:"username"`
	IdentityPublicKey string    `gorm:"not null" json:"identity_public_key"`
	RegistrationID    uint32    `gorm:"not null" json:"registration_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Owned relations. Deleting a user cascades to all of them; queued
	// messages are cleaned up for both sender and recipient roles by the
	// store's delete path since GORM only cascades one foreign key.
	Devices        []Device        `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	SignedPreKeys  []SignedPreKey  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	OneTimePreKeys []OneTimePreKey `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}
