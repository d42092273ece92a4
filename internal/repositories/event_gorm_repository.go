package repositories

import (
	"context"
	"fmt"

	"frostmart/internal/models"

	"gorm.io/gorm"
)

// GORMWebhookEventRepository is a GORM implementation of WebhookEventRepository.
type GORMWebhookEventRepository struct {
	db *gorm.DB
}

// NewGORMWebhookEventRepository creates a new instance of GORMWebhookEventRepository.
func NewGORMWebhookEventRepository(db *gorm.DB) *GORMWebhookEventRepository {
	return &GORMWebhookEventRepository{db: db}
}

// Record stores a processed webhook event.
func (r *GORMWebhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		if isDuplicateKey(err) {
			return models.ErrConflictData
		}
		return fmt.Errorf("failed to record webhook event %s: %w", event.EventID, err)
	}
	return nil
}

// Exists reports whether an event id was already recorded.
func (r *GORMWebhookEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("event_id = ?", eventID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up webhook event %s: %w", eventID, err)
	}
	return count > 0, nil
}

// GORMNotificationRepository is a GORM implementation of NotificationRepository.
type GORMNotificationRepository struct {
	db *gorm.DB
}

// NewGORMNotificationRepository creates a new instance of GORMNotificationRepository.
func NewGORMNotificationRepository(db *gorm.DB) *GORMNotificationRepository {
	return &GORMNotificationRepository{db: db}
}

// Create stores notifications in one batch.
func (r *GORMNotificationRepository) Create(ctx context.Context, notifications ...*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(notifications).Error; err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	return nil
}

// List returns the newest notifications for an audience. A non-empty userID
// restricts the result to that recipient.
func (r *GORMNotificationRepository) List(ctx context.Context, audience models.NotificationAudience, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := r.db.WithContext(ctx).Where("audience = ?", string(audience))
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if limit <= 0 {
		limit = 50
	}
	var notifications []models.Notification
	if err := query.Order("id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead flags a notification of the given audience as read. A non-empty
// userID also requires the notification to belong to that user.
func (r *GORMNotificationRepository) MarkRead(ctx context.Context, id uint, audience models.NotificationAudience, userID string) error {
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ? AND audience = ?", id, string(audience))
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	res := query.Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification %d read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %d: %w", id, models.ErrDataNotFound)
	}
	return nil
}
