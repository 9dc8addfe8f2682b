package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"push-device-backend/internal/model"
	"push-device-backend/internal/wire"
)

// Store defines the interface for all database operations.
type Store interface {
	// ListDevices returns every device owned by the given user.
	ListDevices(ctx context.Context, userID string) ([]model.Device, error)

	// UpsertDevice creates or replaces the device keyed by (record.ID, userID).
	// The returned bool is true when a new row was created. The user filter is
	// part of the key, so an id owned by another user is never touched.
	UpsertDevice(ctx context.Context, userID string, record wire.Device) (bool, error)

	// DeleteDevices removes the given ids, strictly scoped to the user. Ids
	// not owned by the user are silently skipped. Returns the number of rows
	// actually deleted.
	DeleteDevices(ctx context.Context, userID string, ids []string) (int64, error)

	CreateUser(ctx context.Context, name string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)

	// CreateSession opens a new session for the user and marks it as the
	// user's current one, superseding any previous session.
	CreateSession(ctx context.Context, userID string, ttl time.Duration) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	IsCurrentSession(ctx context.Context, userID, sessionID string) (bool, error)

	DB() *gorm.DB
}

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) ListDevices(ctx context.Context, userID string) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices for user %s: %w", userID, err)
	}
	return devices, nil
}

func (s *gormStore) UpsertDevice(ctx context.Context, userID string, record wire.Device) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Device
		err := tx.Where("id = ? AND user_id = ?", record.ID, userID).First(&existing).Error
		switch {
		case err == nil:
			updates := map[string]any{
				"device":            record.Device,
				"browser":           record.Browser,
				"subscription_json": record.SubscriptionJSON,
			}
			if err := tx.Model(&model.Device{}).
				Where("id = ? AND user_id = ?", record.ID, userID).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update device %s: %w", record.ID, err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			device := model.Device{
				ID:               record.ID,
				UserID:           userID,
				Device:           record.Device,
				Browser:          record.Browser,
				SubscriptionJSON: record.SubscriptionJSON,
			}
			if err := tx.Create(&device).Error; err != nil {
				return fmt.Errorf("failed to create device %s: %w", record.ID, err)
			}
			created = true
		default:
			return fmt.Errorf("failed to look up device %s: %w", record.ID, err)
		}
		return nil
	})
	return created, err
}

func (s *gormStore) DeleteDevices(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&model.Device{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete devices for user %s: %w", userID, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *gormStore) CreateUser(ctx context.Context, name string) (*model.User, error) {
	user := model.User{
		ID:   uuid.NewString(),
		Name: name,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *gormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &user, nil
}

func (s *gormStore) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*model.Session, error) {
	session := model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		result := tx.Model(&model.User{}).
			Where("id = ?", userID).
			Update("current_session_id", session.ID)
		if result.Error != nil {
			return fmt.Errorf("failed to mark session current: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *gormStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

func (s *gormStore) IsCurrentSession(ctx context.Context, userID, sessionID string) (bool, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.CurrentSessionID == sessionID, nil
}
