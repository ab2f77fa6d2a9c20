package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veilchat/relay/pkg/relay/models"
)

// ReplaceDevice enforces the single-session invariant: within one
// transaction, every prior device row of the user is deleted and the
// new row inserted. A concurrent reader sees the old device or the new
// one, never both.
func (s *GORMStore) ReplaceDevice(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	device.CreatedAt = time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", device.UserID).Delete(&models.Device{}).Error; err != nil {
			return err
		}
		return tx.Create(device).Error
	})
}

func (s *GORMStore) GetDevice(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		First(&device).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrDeviceNotFound)
	}
	return &device, nil
}

func (s *GORMStore) HasDevice(ctx context.Context, userID string) (bool, error) {
	var device models.Device
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteDevice is idempotent: deleting an already-absent row is not an error.
func (s *GORMStore) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Delete(&models.Device{}).Error
}

func (s *GORMStore) TouchDevice(ctx context.Context, userID, deviceID string, seenAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Update("last_seen_at", seenAt).Error
}
