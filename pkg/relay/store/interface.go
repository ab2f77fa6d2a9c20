package store

import (
	"context"
	"time"

	"github.com/veilchat/relay/pkg/relay/models"
)

// UserStore manages user accounts and their identity keys.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) (string, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateIdentityKey(ctx context.Context, id, publicKey string, registrationID uint32) error
	DeleteUser(ctx context.Context, id string) error
}

// DeviceStore manages the single active device per user.
type DeviceStore interface {
	// ReplaceDevice deletes every device row of device.UserID and inserts
	// device in the same transaction.
	ReplaceDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, userID, deviceID string) (*models.Device, error)
	HasDevice(ctx context.Context, userID string) (bool, error)
	DeleteDevice(ctx context.Context, userID, deviceID string) error
	TouchDevice(ctx context.Context, userID, deviceID string, seenAt time.Time) error
}

// ChallengeStore manages login nonces.
type ChallengeStore interface {
	// ReplaceChallenge deletes all prior challenges of the user and
	// inserts the new one atomically.
	ReplaceChallenge(ctx context.Context, challenge *models.AuthChallenge) error
	// TakeChallenge returns the newest challenge row for the user and
	// deletes every row of that user in the same transaction. The row is
	// consumed regardless of what the caller does with it.
	TakeChallenge(ctx context.Context, userID string) (*models.AuthChallenge, error)
	PurgeExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// PreKeyStore manages signed and one-time pre-keys.
type PreKeyStore interface {
	UpsertSignedPreKey(ctx context.Context, key *models.SignedPreKey) error
	LatestSignedPreKey(ctx context.Context, userID string) (*models.SignedPreKey, error)
	// ReapSignedPreKeys deletes all but the keep most recent signed
	// pre-keys of the user and returns how many were removed.
	ReapSignedPreKeys(ctx context.Context, userID string, keep int) (int64, error)
	// ReapAllSignedPreKeys applies the retention policy for every user.
	ReapAllSignedPreKeys(ctx context.Context, keep int) (int64, error)
	AddOneTimePreKeys(ctx context.Context, userID string, keys []*models.OneTimePreKey) error
	// ConsumeOneTimePreKey deletes and returns the oldest one-time
	// pre-key of the user. Concurrent calls never return the same row.
	// Returns models.ErrPreKeyNotFound when the user has none left.
	ConsumeOneTimePreKey(ctx context.Context, userID string) (*models.OneTimePreKey, error)
	CountOneTimePreKeys(ctx context.Context, userID string) (int64, error)
}

// QueueStore manages the offline message queue.
type QueueStore interface {
	EnqueueMessage(ctx context.Context, msg *models.QueuedMessage) (string, error)
	// DrainMessages deletes and returns up to limit of the oldest queued
	// messages for the recipient, ordered by creation time ascending.
	// Concurrent drains return disjoint sets.
	DrainMessages(ctx context.Context, recipientID string, limit int) ([]*models.QueuedMessage, error)
	// DeleteMessages removes the given message ids, but only rows owned
	// by recipientID. Returns the number of rows removed.
	DeleteMessages(ctx context.Context, recipientID string, ids []string) (int64, error)
	// PurgeExpiredMessages removes rows past their expiry and rows older
	// than the retention window, returning both counts.
	PurgeExpiredMessages(ctx context.Context, now time.Time) (expired int64, stale int64, err error)
}

// Store is the full persistence interface of the relay.
type Store interface {
	UserStore
	DeviceStore
	ChallengeStore
	PreKeyStore
	QueueStore

	Ping(ctx context.Context) error
	Close() error
}

// Compile-time check that GORMStore satisfies Store.
var _ Store = (*GORMStore)(nil)
