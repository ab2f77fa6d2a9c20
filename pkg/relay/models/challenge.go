package models

import "time"

// AuthChallenge is a login nonce awaiting a signature.
//
// At most one non-expired row exists per user: issuing a new challenge
// deletes prior rows in the same transaction, and verification consumes
// the row whether or not the signature checks out. Consuming on failure
// is what makes a nonce un-brute-forceable.
type AuthChallenge struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"index;not null;size:36" json:"user_id"`
	Nonce     string    `gorm:"not null;size:64" json:"nonce"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for AuthChallenge.
func (AuthChallenge) TableName() string {
	return "auth_challenges"
}

// ChallengeTTL is how long an issued nonce stays valid.
const ChallengeTTL = 120 * time.Second

// Expired reports whether the challenge is past its expiry at now.
func (c *AuthChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
