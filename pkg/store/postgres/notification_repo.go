package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/syllaflow/syllaflow/pkg/model"
	"github.com/syllaflow/syllaflow/pkg/notify"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	var n model.Notification
	err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notify.ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	var rows []model.Notification
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkRead flips read=false rows only, so read_at is written exactly once and
// repeated calls are no-ops. Returns whether this call did the flip.
func (r *NotificationRepository) MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND read = ?", id, false).
		Updates(map[string]interface{}{"read": true, "read_at": readAt})
	return result.RowsAffected > 0, result.Error
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": readAt})
	return result.RowsAffected, result.Error
}

type FollowRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) *FollowRepository {
	return &FollowRepository{db: db}
}

func (r *FollowRepository) Follow(ctx context.Context, userID string, rootID uuid.UUID) error {
	follow := &model.Follow{
		ID:             uuid.New(),
		UserID:         userID,
		DocumentRootID: rootID,
		NotifyOnChange: true,
	}
	err := r.db.WithContext(ctx).Create(follow).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil // already following
	}
	return err
}

func (r *FollowRepository) Unfollow(ctx context.Context, userID string, rootID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND document_root_id = ?", userID, rootID).
		Delete(&model.Follow{}).Error
}

func (r *FollowRepository) Followers(ctx context.Context, rootID uuid.UUID) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("document_root_id = ? AND notify_on_change = ?", rootID, true).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}

type DeviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

func (r *DeviceTokenRepository) Register(ctx context.Context, token *model.DeviceToken) error {
	token.LastSeenAt = time.Now()
	err := r.db.WithContext(ctx).Create(token).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.db.WithContext(ctx).
			Model(&model.DeviceToken{}).
			Where("token = ?", token.Token).
			Updates(map[string]interface{}{
				"user_id":      token.UserID,
				"active":       true,
				"last_seen_at": token.LastSeenAt,
			}).Error
	}
	return err
}

func (r *DeviceTokenRepository) ActiveTokens(ctx context.Context, userID string) ([]model.DeviceToken, error) {
	var tokens []model.DeviceToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&tokens).Error
	return tokens, err
}

func (r *DeviceTokenRepository) Deactivate(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).
		Model(&model.DeviceToken{}).
		Where("token = ?", token).
		Update("active", false).Error
}
