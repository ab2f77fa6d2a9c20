// Package models defines the persistent entities of the relay control plane:
// users, devices, pre-keys, authentication challenges, and the offline
// message queue.
package models

// AllModels returns every model for schema migration.
// Order matters: parents before children so foreign keys resolve.
func AllModels() []any {
	return []any{
		&User{},
		&Device{},
		&SignedPreKey{},
		&OneTimePreKey{},
		&AuthChallenge{},
		&QueuedMessage{},
	}
}
