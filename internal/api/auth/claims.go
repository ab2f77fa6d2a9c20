package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the session-token payload: the authenticated user and the
// device the token was minted for. Every authenticated request re-checks
// that the device row still exists, which is how a login from a new
// device remotely revokes old tokens without a blacklist.
type Claims struct {
	jwt.RegisteredClaims

	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}
