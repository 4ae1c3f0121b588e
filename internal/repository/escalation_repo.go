package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"gorm.io/gorm"
)

type GormEscalationRepo struct {
	db *gorm.DB
}

func NewGormEscalationRepo(db *gorm.DB) *GormEscalationRepo {
	return &GormEscalationRepo{db: db}
}

func (r *GormEscalationRepo) Create(ctx context.Context, e *domain.EscalationLog) error {
	model := escalationModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *escalationModelToDomain(model)
	}
	return nil
}

func (r *GormEscalationRepo) ListSince(ctx context.Context, since time.Time) ([]domain.EscalationLog, error) {
	var models []EscalationLogModel
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return escalationsToDomain(models), nil
}

func (r *GormEscalationRepo) ListPendingHandoff(ctx context.Context, limit int) ([]domain.EscalationLog, error) {
	if limit < 1 {
		limit = 100
	}

	var models []EscalationLogModel
	err := r.db.WithContext(ctx).
		Where("action = ? AND handed_off_at IS NULL", domain.ActionEscalateBloodBank).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return escalationsToDomain(models), nil
}

func (r *GormEscalationRepo) MarkHandedOff(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EscalationLogModel{}).
		Where("id = ?", id).
		Update("handed_off_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormEscalationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&EscalationLogModel{})
	return result.RowsAffected, result.Error
}

func escalationsToDomain(models []EscalationLogModel) []domain.EscalationLog {
	logs := make([]domain.EscalationLog, 0, len(models))
	for i := range models {
		logs = append(logs, *escalationModelToDomain(&models[i]))
	}
	return logs
}
