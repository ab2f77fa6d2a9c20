package models

import "time"

// Device is the single active session endpoint of a user.
//
// At most one row exists per user at any instant: a successful challenge
// verification replaces all prior rows in the same transaction, which is
// what remotely logs out the previous device. DeviceID is generated by
// the client and opaque to the server.
type Device struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	UserID            string    `gorm:"index;not null;size:36" json:"user_id"`
	DeviceID          string    `gorm:"not null;size:255" json:"device_id"`
	IdentityPublicKey string    `gorm:"not null" json:"identity_public_key"`
	RegistrationID    uint32    `gorm:"not null" json:"registration_id"`
	DeviceName        string    `gorm:"size:255" json:"device_name,omitempty"`
	FCMToken          string    `gorm:"size:512" json:"-"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Device.
func (Device) TableName() string {
	return "devices"
}
