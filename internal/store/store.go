package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wash-queue-backend/internal/model"
)

// ErrDuplicateName is returned when a user registers with a taken name.
var ErrDuplicateName = errors.New("user name already exists")

// Store defines the persistence operations behind the API and relay:
// the user directory, the per-day completed-wash set and push
// subscriptions.
type Store interface {
	DB() *gorm.DB

	CreateUser(ctx context.Context, name string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)

	RecordWash(ctx context.Context, userID, machineID int64, day string, completedAt time.Time) error
	CompletedUserIDs(ctx context.Context, day string) ([]int64, error)
	ClearWashDay(ctx context.Context, day string) error

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

// CreateUser registers a new user with a unique display name.
func (s *gormStore) CreateUser(ctx context.Context, name string) (*model.User, error) {
	user := model.User{Name: name}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateName
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user %q: %w", name, err)
	}
	return &user, nil
}

func (s *gormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// RecordWash marks a completed wash for the given day. Idempotent: a
// second completion on the same day is a no-op.
func (s *gormStore) RecordWash(ctx context.Context, userID, machineID int64, day string, completedAt time.Time) error {
	record := model.WashRecord{
		UserID:      userID,
		MachineID:   machineID,
		Day:         day,
		CompletedAt: completedAt,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoNothing: true,
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to record wash for user %d: %w", userID, err)
	}
	return nil
}

// CompletedUserIDs returns the ids of all users who completed a wash on
// the given day.
func (s *gormStore) CompletedUserIDs(ctx context.Context, day string) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).
		Model(&model.WashRecord{}).
		Where("day = ?", day).
		Order("user_id").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch wash records for %s: %w", day, err)
	}
	return ids, nil
}

// ClearWashDay removes all completion records for the given day. Used
// by the reset entry point.
func (s *gormStore) ClearWashDay(ctx context.Context, day string) error {
	if err := s.db.WithContext(ctx).
		Where("day = ?", day).
		Delete(&model.WashRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear wash records for %s: %w", day, err)
	}
	return nil
}

// UpsertSubscription creates or refreshes a push subscription keyed by
// its endpoint.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to upsert subscription %s: %w", sub.Endpoint, err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).
		Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", endpoint, err)
	}
	return nil
}

func (s *gormStore) SubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for user %d: %w", userID, err)
	}
	return subs, nil
}
