package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/veilchat/relay/pkg/relay/models"
)

// UpsertSignedPreKey inserts the key or, when (user_id, key_id) already
// exists, replaces its public key and signature.
func (s *GORMStore) UpsertSignedPreKey(ctx context.Context, key *models.SignedPreKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	key.CreatedAt = time.Now()

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "key_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"public_key", "signature", "created_at"}),
		}).
		Create(key).Error
}

func (s *GORMStore) LatestSignedPreKey(ctx context.Context, userID string) (*models.SignedPreKey, error) {
	var key models.SignedPreKey
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&key).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPreKeyNotFound)
	}
	return &key, nil
}

// ReapSignedPreKeys keeps the keep most recent signed pre-keys of the
// user and deletes the rest.
func (s *GORMStore) ReapSignedPreKeys(ctx context.Context, userID string, keep int) (int64, error) {
	var keepIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.SignedPreKey{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(keep).
		Pluck("id", &keepIDs).Error
	if err != nil {
		return 0, err
	}
	if len(keepIDs) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).
		Where("user_id = ? AND id NOT IN ?", userID, keepIDs).
		Delete(&models.SignedPreKey{})
	return result.RowsAffected, result.Error
}

// ReapAllSignedPreKeys applies the retention policy across every user
// that holds more than keep signed pre-keys.
func (s *GORMStore) ReapAllSignedPreKeys(ctx context.Context, keep int) (int64, error) {
	var userIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.SignedPreKey{}).
		Select("user_id").
		Group("user_id").
		Having("COUNT(*) > ?", keep).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return 0, err
	}

	var total int64
	for _, userID := range userIDs {
		n, err := s.ReapSignedPreKeys(ctx, userID, keep)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// AddOneTimePreKeys inserts the batch in one transaction. A duplicate
// (user_id, key_id) anywhere in the batch rolls the whole batch back.
func (s *GORMStore) AddOneTimePreKeys(ctx context.Context, userID string, keys []*models.OneTimePreKey) error {
	if len(keys) == 0 {
		return nil
	}

	now := time.Now()
	for _, key := range keys {
		key.UserID = userID
		if key.ID == "" {
			key.ID = uuid.New().String()
		}
		key.CreatedAt = now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if err := tx.Create(key).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicatePreKey
		}
		return err
	}
	return nil
}

// ConsumeOneTimePreKey deletes and returns the oldest one-time pre-key
// of the user. The row is selected with an exclusive lock, skipping
// rows already locked by a concurrent consumer, so two bundle fetches
// for the same user always come away with different keys. SQLite has no
// row locks but serializes writers, which gives the same guarantee.
func (s *GORMStore) ConsumeOneTimePreKey(ctx context.Context, userID string) (*models.OneTimePreKey, error) {
	var key models.OneTimePreKey

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("user_id = ?", userID).
			Order("created_at ASC, key_id ASC")
		if s.config.Type == DatabaseTypePostgres {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.First(&key).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", key.ID).Delete(&models.OneTimePreKey{}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrPreKeyNotFound
		}
		return nil, err
	}

	return &key, nil
}

func (s *GORMStore) CountOneTimePreKeys(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.OneTimePreKey{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
