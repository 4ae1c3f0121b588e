package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormRequestRepo struct {
	db *gorm.DB
}

func NewGormRequestRepo(db *gorm.DB) *GormRequestRepo {
	return &GormRequestRepo{db: db}
}

func (r *GormRequestRepo) Create(ctx context.Context, req *domain.Request) error {
	model := requestModelFromDomain(req)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if req != nil {
		*req = *requestModelToDomain(model)
	}
	return nil
}

func (r *GormRequestRepo) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *GormRequestRepo) GetForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormRequestRepo) get(query *gorm.DB, id string) (*domain.Request, error) {
	var model RequestModel
	err := query.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return requestModelToDomain(&model), nil
}

func (r *GormRequestRepo) ListPending(ctx context.Context, limit int) ([]domain.Request, error) {
	if limit < 1 {
		limit = 100
	}

	var models []RequestModel
	err := r.db.WithContext(ctx).
		Where("state IN ?", domain.PendingStates()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	requests := make([]domain.Request, 0, len(models))
	for i := range models {
		requests = append(requests, *requestModelToDomain(&models[i]))
	}
	return requests, nil
}

func (r *GormRequestRepo) Update(ctx context.Context, req *domain.Request) error {
	result := r.db.WithContext(ctx).
		Model(&RequestModel{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{
			"state":            req.State,
			"matched_donor_id": req.MatchedDonorID,
			"reason":           req.Reason,
			"accepted_at":      req.AcceptedAt,
			"escalated_at":     req.EscalatedAt,
			"completed_at":     req.CompletedAt,
			"cancelled_at":     req.CancelledAt,
			"updated_at":       req.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
