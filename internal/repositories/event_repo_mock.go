package repositories

import (
	"context"
	"fmt"
	"sync"

	"frostmart/internal/models"
)

// MockWebhookEventRepository is an in-memory implementation of WebhookEventRepository.
type MockWebhookEventRepository struct {
	events map[string]models.WebhookEvent
	seq    uint
	mu     sync.RWMutex
}

// NewMockWebhookEventRepository creates a new instance of MockWebhookEventRepository.
func NewMockWebhookEventRepository() *MockWebhookEventRepository {
	return &MockWebhookEventRepository{events: make(map[string]models.WebhookEvent)}
}

// Record stores an event; a repeated event id returns ErrConflictData.
func (r *MockWebhookEventRepository) Record(_ context.Context, event *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[event.EventID]; ok {
		return models.ErrConflictData
	}
	r.seq++
	event.ID = r.seq
	r.events[event.EventID] = *event
	return nil
}

// Exists reports whether an event id was already recorded.
func (r *MockWebhookEventRepository) Exists(_ context.Context, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.events[eventID]
	return ok, nil
}

// Get returns a recorded event.
func (r *MockWebhookEventRepository) Get(eventID string) (models.WebhookEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[eventID]
	return event, ok
}

// Len returns the number of recorded events.
func (r *MockWebhookEventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// MockNotificationRepository is an in-memory implementation of NotificationRepository.
type MockNotificationRepository struct {
	notifications []models.Notification
	mu            sync.RWMutex
}

// NewMockNotificationRepository creates a new instance of MockNotificationRepository.
func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{}
}

// Create stores notifications.
func (r *MockNotificationRepository) Create(_ context.Context, notifications ...*models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range notifications {
		n.ID = uint(len(r.notifications) + 1)
		r.notifications = append(r.notifications, *n)
	}
	return nil
}

// List returns the newest notifications for an audience.
func (r *MockNotificationRepository) List(_ context.Context, audience models.NotificationAudience, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []models.Notification
	for i := len(r.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := r.notifications[i]
		if n.Audience != audience || (userID != "" && n.UserID != userID) || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead flags a notification as read.
func (r *MockNotificationRepository) MarkRead(_ context.Context, id uint, audience models.NotificationAudience, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		n := &r.notifications[i]
		if n.ID == id && n.Audience == audience && (userID == "" || n.UserID == userID) {
			n.Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %d: %w", id, models.ErrDataNotFound)
}
