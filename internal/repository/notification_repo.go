package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"gorm.io/gorm"
)

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) ListByRequest(ctx context.Context, requestID string) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Order("attempt ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationsToDomain(models), nil
}

func (r *GormNotificationRepo) Resolve(ctx context.Context, id string, res Resolution) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND state = ?", id, domain.NotificationSent).
		Updates(map[string]any{
			"state":               res.State,
			"response_latency_ms": latencyToMillis(res.ResponseLatency),
			"send_error":          res.SendError,
			"responded_at":        res.RespondedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormNotificationRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 100
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("state = ? AND expires_at <= ?", domain.NotificationSent, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationsToDomain(models), nil
}

func notificationsToDomain(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}
