package models

import "errors"

// Sentinel errors returned by the store layer. Handlers translate these
// into HTTP statuses; nothing below the API edge knows about HTTP.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateUser     = errors.New("user already exists")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrPreKeyNotFound    = errors.New("pre-key not found")
	ErrDuplicatePreKey   = errors.New("pre-key already exists")
	ErrMessageNotFound   = errors.New("message not found")
)
