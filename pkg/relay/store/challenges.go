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

// ReplaceChallenge deletes all prior challenges of the user and inserts
// the new one in the same transaction, keeping at most one live nonce
// per user.
func (s *GORMStore) ReplaceChallenge(ctx context.Context, challenge *models.AuthChallenge) error {
	if challenge.ID == "" {
		challenge.ID = uuid.New().String()
	}
	challenge.CreatedAt = time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", challenge.UserID).Delete(&models.AuthChallenge{}).Error; err != nil {
			return err
		}
		return tx.Create(challenge).Error
	})
}

// TakeChallenge returns the newest challenge row for the user and
// deletes all of the user's rows in the same transaction. The caller
// decides what to do with an expired row; the deletion happens either
// way, so one issued nonce admits exactly one verification attempt.
func (s *GORMStore) TakeChallenge(ctx context.Context, userID string) (*models.AuthChallenge, error) {
	var challenge models.AuthChallenge

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("user_id = ?", userID).Order("created_at DESC")
		if s.config.Type == DatabaseTypePostgres {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.First(&challenge).Error
		if err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.AuthChallenge{}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrChallengeNotFound
		}
		return nil, err
	}

	return &challenge, nil
}

func (s *GORMStore) PurgeExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.AuthChallenge{})
	return result.RowsAffected, result.Error
}
