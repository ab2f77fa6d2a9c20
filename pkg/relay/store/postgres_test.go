//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/veilchat/relay/pkg/relay/models"
)

// createPostgresStore starts a throwaway PostgreSQL container and opens
// the store against it.
func createPostgresStore(t *testing.T) *GORMStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("relay_test"),
		postgres.WithUsername("relay"),
		postgres.WithPassword("relay"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	s, err := New(&Config{
		Type: DatabaseTypePostgres,
		Postgres: PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "relay_test",
			User:     "relay",
			Password: "relay",
		},
	})
	if err != nil {
		t.Fatalf("failed to open postgres store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestPostgresConcurrentOneTimeKeyConsumption exercises the row-lock
// path that SQLite cannot: concurrent bundle fetches must come away
// with distinct keys.
func TestPostgresConcurrentOneTimeKeyConsumption(t *testing.T) {
	s := createPostgresStore(t)
	ctx := context.Background()

	user := &models.User{
		Username:          "carol",
		IdentityPublicKey: "aWRlbnRpdHkta2V5LWlkZW50aXR5LWtleS0zMiEhISE=",
		RegistrationID:    1,
	}
	if _, err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	const keyCount = 8
	keys := make([]*models.OneTimePreKey, keyCount)
	for i := range keys {
		keys[i] = &models.OneTimePreKey{KeyID: uint32(i + 1), PublicKey: "a2V5"}
	}
	if err := s.AddOneTimePreKeys(ctx, user.ID, keys); err != nil {
		t.Fatalf("AddOneTimePreKeys failed: %v", err)
	}

	type result struct {
		keyID uint32
		err   error
	}
	results := make(chan result, keyCount+4)
	for i := 0; i < keyCount+4; i++ {
		go func() {
			key, err := s.ConsumeOneTimePreKey(ctx, user.ID)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{keyID: key.KeyID}
		}()
	}

	seen := make(map[uint32]bool)
	var misses int
	for i := 0; i < keyCount+4; i++ {
		r := <-results
		if r.err != nil {
			misses++
			continue
		}
		if seen[r.keyID] {
			t.Errorf("key %d consumed twice", r.keyID)
		}
		seen[r.keyID] = true
	}

	if len(seen) != keyCount {
		t.Errorf("expected %d distinct keys consumed, got %d", keyCount, len(seen))
	}
	if misses != 4 {
		t.Errorf("expected 4 exhausted fetches, got %d", misses)
	}
}

// TestPostgresConcurrentDrains: interleaved queue drains return
// disjoint sets whose union is the full queue.
func TestPostgresConcurrentDrains(t *testing.T) {
	s := createPostgresStore(t)
	ctx := context.Background()

	sender := &models.User{Username: "s", IdentityPublicKey: "a2V5", RegistrationID: 1}
	recipient := &models.User{Username: "r", IdentityPublicKey: "a2V5", RegistrationID: 1}
	if _, err := s.CreateUser(ctx, sender); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := s.CreateUser(ctx, recipient); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	const total = 20
	for i := 0; i < total; i++ {
		if _, err := s.EnqueueMessage(ctx, &models.QueuedMessage{
			RecipientID:      recipient.ID,
			SenderID:         sender.ID,
			EncryptedPayload: []byte{byte(i)},
			MessageType:      models.MessageTypeSignal,
		}); err != nil {
			t.Fatalf("EnqueueMessage failed: %v", err)
		}
	}

	const drainers = 4
	results := make(chan []*models.QueuedMessage, drainers)
	for i := 0; i < drainers; i++ {
		go func() {
			msgs, err := s.DrainMessages(ctx, recipient.ID, total)
			if err != nil {
				t.Errorf("DrainMessages failed: %v", err)
				results <- nil
				return
			}
			results <- msgs
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < drainers; i++ {
		for _, m := range <-results {
			if seen[m.ID] {
				t.Errorf("message %s drained twice", m.ID)
			}
			seen[m.ID] = true
		}
	}

	if len(seen) != total {
		t.Errorf("expected %d messages drained overall, got %d", total, len(seen))
	}
}
