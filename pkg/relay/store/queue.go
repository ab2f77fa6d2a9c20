package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/veilchat/relay/pkg/relay/models"
)

func (s *GORMStore) EnqueueMessage(ctx context.Context, msg *models.QueuedMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now()
	msg.CreatedAt = now
	if msg.ExpiresAt.IsZero() {
		msg.ExpiresAt = now.Add(models.QueuedMessageTTL)
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return "", err
	}
	return msg.ID, nil
}

// DrainMessages deletes and returns up to limit of the oldest queued
// messages for the recipient, ordered by creation time ascending. Rows
// are locked exclusively inside the transaction, so two interleaved
// drains return disjoint sets.
func (s *GORMStore) DrainMessages(ctx context.Context, recipientID string, limit int) ([]*models.QueuedMessage, error) {
	var messages []*models.QueuedMessage

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("recipient_id = ?", recipientID).
			Order("created_at ASC").
			Limit(limit)
		if s.config.Type == DatabaseTypePostgres {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&messages).Error; err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		ids := make([]string, len(messages))
		for i, m := range messages {
			ids[i] = m.ID
		}
		return tx.Where("id IN ?", ids).Delete(&models.QueuedMessage{}).Error
	})
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// DeleteMessages removes the given ids, restricted to rows owned by
// recipientID so a caller cannot erase another user's queue.
func (s *GORMStore) DeleteMessages(ctx context.Context, recipientID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Where("recipient_id = ? AND id IN ?", recipientID, ids).
		Delete(&models.QueuedMessage{})
	return result.RowsAffected, result.Error
}

// PurgeExpiredMessages removes rows past their expiry, then rows older
// than the retention window regardless of expiry.
func (s *GORMStore) PurgeExpiredMessages(ctx context.Context, now time.Time) (int64, int64, error) {
	expired := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.QueuedMessage{})
	if expired.Error != nil {
		return 0, 0, expired.Error
	}

	stale := s.db.WithContext(ctx).
		Where("created_at < ?", now.Add(-models.QueuedMessageTTL)).
		Delete(&models.QueuedMessage{})
	if stale.Error != nil {
		return expired.RowsAffected, 0, stale.Error
	}

	return expired.RowsAffected, stale.RowsAffected, nil
}
