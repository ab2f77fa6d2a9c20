package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/relay/pkg/relay/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestUser(t *testing.T, s *GORMStore, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username:          username,
		IdentityPublicKey: "dGVzdC1pZGVudGl0eS1rZXktMzItYnl0ZXMhISEhISE=",
		RegistrationID:    42,
	}
	if _, err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		_, err := New(&Config{Type: "invalid"})
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})

	t.Run("postgres defaults size the pool", func(t *testing.T) {
		config := &Config{Type: DatabaseTypePostgres}
		config.ApplyDefaults()

		if config.Postgres.MaxOpenConns != 10 {
			t.Errorf("expected max 10 connections, got %d", config.Postgres.MaxOpenConns)
		}
		if config.Postgres.MinIdleConns != 2 {
			t.Errorf("expected min 2 idle connections, got %d", config.Postgres.MinIdleConns)
		}
	})
}

func TestUserOperations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	t.Run("create and fetch", func(t *testing.T) {
		user := createTestUser(t, s, "alice")

		byName, err := s.GetUser(ctx, "alice")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if byName.ID != user.ID {
			t.Errorf("expected id %s, got %s", user.ID, byName.ID)
		}

		byID, err := s.GetUserByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUserByID failed: %v", err)
		}
		if byID.Username != "alice" {
			t.Errorf("expected alice, got %s", byID.Username)
		}
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		createTestUser(t, s, "bob")

		_, err := s.CreateUser(ctx, &models.User{
			Username:          "bob",
			IdentityPublicKey: "b3RoZXIta2V5LW90aGVyLWtleS1vdGhlci1rZXkhISE=",
			RegistrationID:    7,
		})
		if !errors.Is(err, models.ErrDuplicateUser) {
			t.Errorf("expected ErrDuplicateUser, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.GetUser(ctx, "nobody")
		if !errors.Is(err, models.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("identity rotation", func(t *testing.T) {
		user := createTestUser(t, s, "carol")

		newKey := "bmV3LWlkZW50aXR5LWtleS1uZXcta2V5LW5ldyEhISEh"
		if err := s.UpdateIdentityKey(ctx, user.ID, newKey, 99); err != nil {
			t.Fatalf("UpdateIdentityKey failed: %v", err)
		}

		got, err := s.GetUserByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUserByID failed: %v", err)
		}
		if got.IdentityPublicKey != newKey || got.RegistrationID != 99 {
			t.Errorf("identity not rotated: %+v", got)
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		user := createTestUser(t, s, "dave")
		other := createTestUser(t, s, "erin")

		if err := s.ReplaceDevice(ctx, &models.Device{
			UserID: user.ID, DeviceID: "dev-1",
			IdentityPublicKey: user.IdentityPublicKey, RegistrationID: 1,
			LastSeenAt: time.Now(),
		}); err != nil {
			t.Fatalf("ReplaceDevice failed: %v", err)
		}
		if _, err := s.EnqueueMessage(ctx, &models.QueuedMessage{
			RecipientID: other.ID, SenderID: user.ID,
			EncryptedPayload: []byte("x"), MessageType: models.MessageTypeSignal,
		}); err != nil {
			t.Fatalf("EnqueueMessage failed: %v", err)
		}

		if err := s.DeleteUser(ctx, user.ID); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}

		if has, _ := s.HasDevice(ctx, user.ID); has {
			t.Error("devices not cascaded")
		}
		msgs, err := s.DrainMessages(ctx, other.ID, 10)
		if err != nil {
			t.Fatalf("DrainMessages failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("sender-side messages not cascaded, got %d", len(msgs))
		}
	})
}

func TestDeviceReplacement(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "frank")

	newDevice := func(deviceID string) *models.Device {
		return &models.Device{
			UserID:            user.ID,
			DeviceID:          deviceID,
			IdentityPublicKey: user.IdentityPublicKey,
			RegistrationID:    user.RegistrationID,
			LastSeenAt:        time.Now(),
		}
	}

	t.Run("at most one device per user", func(t *testing.T) {
		if err := s.ReplaceDevice(ctx, newDevice("device-x")); err != nil {
			t.Fatalf("ReplaceDevice failed: %v", err)
		}
		if err := s.ReplaceDevice(ctx, newDevice("device-y")); err != nil {
			t.Fatalf("ReplaceDevice failed: %v", err)
		}

		if _, err := s.GetDevice(ctx, user.ID, "device-x"); !errors.Is(err, models.ErrDeviceNotFound) {
			t.Errorf("old device still present: %v", err)
		}
		if _, err := s.GetDevice(ctx, user.ID, "device-y"); err != nil {
			t.Errorf("new device missing: %v", err)
		}

		var count int64
		if err := s.DB().Model(&models.Device{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected exactly 1 device row, got %d", count)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		if err := s.DeleteDevice(ctx, user.ID, "device-y"); err != nil {
			t.Fatalf("DeleteDevice failed: %v", err)
		}
		if err := s.DeleteDevice(ctx, user.ID, "device-y"); err != nil {
			t.Errorf("second DeleteDevice should be a no-op, got %v", err)
		}
	})

	t.Run("touch updates last seen", func(t *testing.T) {
		if err := s.ReplaceDevice(ctx, newDevice("device-z")); err != nil {
			t.Fatalf("ReplaceDevice failed: %v", err)
		}
		seen := time.Now().Add(time.Hour).Truncate(time.Second)
		if err := s.TouchDevice(ctx, user.ID, "device-z", seen); err != nil {
			t.Fatalf("TouchDevice failed: %v", err)
		}

		device, err := s.GetDevice(ctx, user.ID, "device-z")
		if err != nil {
			t.Fatalf("GetDevice failed: %v", err)
		}
		if !device.LastSeenAt.Truncate(time.Second).Equal(seen) {
			t.Errorf("last seen not updated: %v", device.LastSeenAt)
		}
	})
}

func TestChallengeLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "grace")

	newChallenge := func(nonce string) *models.AuthChallenge {
		return &models.AuthChallenge{
			UserID:    user.ID,
			Nonce:     nonce,
			ExpiresAt: time.Now().Add(models.ChallengeTTL),
		}
	}

	t.Run("replace keeps one row", func(t *testing.T) {
		if err := s.ReplaceChallenge(ctx, newChallenge("nonce-1")); err != nil {
			t.Fatalf("ReplaceChallenge failed: %v", err)
		}
		if err := s.ReplaceChallenge(ctx, newChallenge("nonce-2")); err != nil {
			t.Fatalf("ReplaceChallenge failed: %v", err)
		}

		var count int64
		if err := s.DB().Model(&models.AuthChallenge{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected exactly 1 challenge row, got %d", count)
		}
	})

	t.Run("take consumes the row", func(t *testing.T) {
		challenge, err := s.TakeChallenge(ctx, user.ID)
		if err != nil {
			t.Fatalf("TakeChallenge failed: %v", err)
		}
		if challenge.Nonce != "nonce-2" {
			t.Errorf("expected newest nonce, got %s", challenge.Nonce)
		}

		if _, err := s.TakeChallenge(ctx, user.ID); !errors.Is(err, models.ErrChallengeNotFound) {
			t.Errorf("expected ErrChallengeNotFound on second take, got %v", err)
		}
	})

	t.Run("purge removes expired only", func(t *testing.T) {
		expired := newChallenge("old")
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		if err := s.ReplaceChallenge(ctx, expired); err != nil {
			t.Fatalf("ReplaceChallenge failed: %v", err)
		}

		other := createTestUser(t, s, "heidi")
		fresh := &models.AuthChallenge{
			UserID: other.ID, Nonce: "fresh",
			ExpiresAt: time.Now().Add(models.ChallengeTTL),
		}
		if err := s.ReplaceChallenge(ctx, fresh); err != nil {
			t.Fatalf("ReplaceChallenge failed: %v", err)
		}

		n, err := s.PurgeExpiredChallenges(ctx, time.Now())
		if err != nil {
			t.Fatalf("PurgeExpiredChallenges failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 purged, got %d", n)
		}
		if _, err := s.TakeChallenge(ctx, other.ID); err != nil {
			t.Errorf("fresh challenge should survive: %v", err)
		}
	})
}

func TestOneTimePreKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "ivan")

	t.Run("consume oldest first, exactly once", func(t *testing.T) {
		keys := []*models.OneTimePreKey{
			{KeyID: 1, PublicKey: "a2V5LW9uZQ=="},
			{KeyID: 2, PublicKey: "a2V5LXR3bw=="},
		}
		if err := s.AddOneTimePreKeys(ctx, user.ID, keys); err != nil {
			t.Fatalf("AddOneTimePreKeys failed: %v", err)
		}

		first, err := s.ConsumeOneTimePreKey(ctx, user.ID)
		if err != nil {
			t.Fatalf("first consume failed: %v", err)
		}
		second, err := s.ConsumeOneTimePreKey(ctx, user.ID)
		if err != nil {
			t.Fatalf("second consume failed: %v", err)
		}
		if first.KeyID == second.KeyID {
			t.Errorf("same key consumed twice: %d", first.KeyID)
		}

		if _, err := s.ConsumeOneTimePreKey(ctx, user.ID); !errors.Is(err, models.ErrPreKeyNotFound) {
			t.Errorf("expected exhaustion, got %v", err)
		}

		count, err := s.CountOneTimePreKeys(ctx, user.ID)
		if err != nil {
			t.Fatalf("CountOneTimePreKeys failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 remaining, got %d", count)
		}
	})

	t.Run("duplicate key id rolls back the batch", func(t *testing.T) {
		if err := s.AddOneTimePreKeys(ctx, user.ID, []*models.OneTimePreKey{
			{KeyID: 10, PublicKey: "a2V5"},
		}); err != nil {
			t.Fatalf("AddOneTimePreKeys failed: %v", err)
		}

		err := s.AddOneTimePreKeys(ctx, user.ID, []*models.OneTimePreKey{
			{KeyID: 11, PublicKey: "a2V5"},
			{KeyID: 10, PublicKey: "a2V5"},
		})
		if !errors.Is(err, models.ErrDuplicatePreKey) {
			t.Fatalf("expected ErrDuplicatePreKey, got %v", err)
		}

		count, _ := s.CountOneTimePreKeys(ctx, user.ID)
		if count != 1 {
			t.Errorf("batch not rolled back, count=%d", count)
		}
	})
}

func TestSignedPreKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "judy")

	t.Run("upsert and latest", func(t *testing.T) {
		for i, keyID := range []uint32{1, 2, 3} {
			key := &models.SignedPreKey{
				UserID:    user.ID,
				KeyID:     keyID,
				PublicKey: "cHVibGlj",
				Signature: "c2ln",
			}
			if err := s.UpsertSignedPreKey(ctx, key); err != nil {
				t.Fatalf("UpsertSignedPreKey %d failed: %v", i, err)
			}
			// created_at ordering needs distinct timestamps on sqlite.
			time.Sleep(5 * time.Millisecond)
		}

		latest, err := s.LatestSignedPreKey(ctx, user.ID)
		if err != nil {
			t.Fatalf("LatestSignedPreKey failed: %v", err)
		}
		if latest.KeyID != 3 {
			t.Errorf("expected key 3 latest, got %d", latest.KeyID)
		}
	})

	t.Run("upsert replaces same key id", func(t *testing.T) {
		key := &models.SignedPreKey{
			UserID:    user.ID,
			KeyID:     3,
			PublicKey: "bmV3LXB1YmxpYw==",
			Signature: "bmV3LXNpZw==",
		}
		if err := s.UpsertSignedPreKey(ctx, key); err != nil {
			t.Fatalf("UpsertSignedPreKey failed: %v", err)
		}

		latest, err := s.LatestSignedPreKey(ctx, user.ID)
		if err != nil {
			t.Fatalf("LatestSignedPreKey failed: %v", err)
		}
		if latest.PublicKey != "bmV3LXB1YmxpYw==" {
			t.Errorf("upsert did not replace public key")
		}
	})

	t.Run("reap keeps most recent", func(t *testing.T) {
		for keyID := uint32(4); keyID <= 8; keyID++ {
			if err := s.UpsertSignedPreKey(ctx, &models.SignedPreKey{
				UserID: user.ID, KeyID: keyID, PublicKey: "cHVibGlj", Signature: "c2ln",
			}); err != nil {
				t.Fatalf("UpsertSignedPreKey failed: %v", err)
			}
			time.Sleep(5 * time.Millisecond)
		}

		removed, err := s.ReapSignedPreKeys(ctx, user.ID, models.SignedPreKeyRetention)
		if err != nil {
			t.Fatalf("ReapSignedPreKeys failed: %v", err)
		}
		if removed != 3 {
			t.Errorf("expected 3 reaped (8 keys, keep 5), got %d", removed)
		}

		latest, err := s.LatestSignedPreKey(ctx, user.ID)
		if err != nil {
			t.Fatalf("LatestSignedPreKey failed: %v", err)
		}
		if latest.KeyID != 8 {
			t.Errorf("latest key should survive reap, got %d", latest.KeyID)
		}
	})
}

func TestMessageQueue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sender := createTestUser(t, s, "kate")
	recipient := createTestUser(t, s, "leo")

	enqueue := func(t *testing.T, payload string) string {
		t.Helper()
		id, err := s.EnqueueMessage(ctx, &models.QueuedMessage{
			RecipientID:      recipient.ID,
			SenderID:         sender.ID,
			EncryptedPayload: []byte(payload),
			MessageType:      models.MessageTypeSignal,
		})
		if err != nil {
			t.Fatalf("EnqueueMessage failed: %v", err)
		}
		// Distinct created_at for deterministic ordering.
		time.Sleep(5 * time.Millisecond)
		return id
	}

	t.Run("drain returns oldest first and deletes", func(t *testing.T) {
		first := enqueue(t, "one")
		second := enqueue(t, "two")
		third := enqueue(t, "three")

		batch, err := s.DrainMessages(ctx, recipient.ID, 2)
		if err != nil {
			t.Fatalf("DrainMessages failed: %v", err)
		}
		if len(batch) != 2 || batch[0].ID != first || batch[1].ID != second {
			t.Fatalf("unexpected drain order: %+v", batch)
		}

		rest, err := s.DrainMessages(ctx, recipient.ID, 10)
		if err != nil {
			t.Fatalf("DrainMessages failed: %v", err)
		}
		if len(rest) != 1 || rest[0].ID != third {
			t.Fatalf("expected only the third message left, got %+v", rest)
		}

		empty, err := s.DrainMessages(ctx, recipient.ID, 10)
		if err != nil {
			t.Fatalf("DrainMessages failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("drained rows came back: %+v", empty)
		}
	})

	t.Run("ack delete is owner scoped", func(t *testing.T) {
		id := enqueue(t, "mine")

		// The sender cannot delete the recipient's queued message.
		n, err := s.DeleteMessages(ctx, sender.ID, []string{id})
		if err != nil {
			t.Fatalf("DeleteMessages failed: %v", err)
		}
		if n != 0 {
			t.Errorf("cross-user delete removed %d rows", n)
		}

		n, err = s.DeleteMessages(ctx, recipient.ID, []string{id, uuid.New().String()})
		if err != nil {
			t.Fatalf("DeleteMessages failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 row deleted, got %d", n)
		}
	})

	t.Run("purge removes expired and stale", func(t *testing.T) {
		now := time.Now()

		expired := &models.QueuedMessage{
			ID: uuid.New().String(), RecipientID: recipient.ID, SenderID: sender.ID,
			EncryptedPayload: []byte("expired"), MessageType: models.MessageTypeSignal,
			ExpiresAt: now.Add(-time.Second),
		}
		if _, err := s.EnqueueMessage(ctx, expired); err != nil {
			t.Fatalf("EnqueueMessage failed: %v", err)
		}

		stale := &models.QueuedMessage{
			ID: uuid.New().String(), RecipientID: recipient.ID, SenderID: sender.ID,
			EncryptedPayload: []byte("stale"), MessageType: models.MessageTypeSignal,
			ExpiresAt: now.Add(time.Hour),
		}
		if _, err := s.EnqueueMessage(ctx, stale); err != nil {
			t.Fatalf("EnqueueMessage failed: %v", err)
		}
		// Backdate past the retention window.
		if err := s.DB().Model(&models.QueuedMessage{}).Where("id = ?", stale.ID).
			Update("created_at", now.Add(-31*24*time.Hour)).Error; err != nil {
			t.Fatalf("backdate failed: %v", err)
		}

		fresh := &models.QueuedMessage{
			ID: uuid.New().String(), RecipientID: recipient.ID, SenderID: sender.ID,
			EncryptedPayload: []byte("fresh"), MessageType: models.MessageTypeSignal,
			ExpiresAt: now.Add(time.Hour),
		}
		if _, err := s.EnqueueMessage(ctx, fresh); err != nil {
			t.Fatalf("EnqueueMessage failed: %v", err)
		}
		if err := s.DB().Model(&models.QueuedMessage{}).Where("id = ?", fresh.ID).
			Update("created_at", now.Add(-29*24*time.Hour)).Error; err != nil {
			t.Fatalf("backdate failed: %v", err)
		}

		expiredCount, staleCount, err := s.PurgeExpiredMessages(ctx, now)
		if err != nil {
			t.Fatalf("PurgeExpiredMessages failed: %v", err)
		}
		if expiredCount != 1 || staleCount != 1 {
			t.Errorf("expected 1 expired + 1 stale purged, got %d + %d", expiredCount, staleCount)
		}

		left, err := s.DrainMessages(ctx, recipient.ID, 10)
		if err != nil {
			t.Fatalf("DrainMessages failed: %v", err)
		}
		if len(left) != 1 || left[0].ID != fresh.ID {
			t.Errorf("fresh message should survive, got %+v", left)
		}
	})
}
