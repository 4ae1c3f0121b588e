package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPatternRepo struct {
	db *gorm.DB
}

func NewGormPatternRepo(db *gorm.DB) *GormPatternRepo {
	return &GormPatternRepo{db: db}
}

func (r *GormPatternRepo) Get(ctx context.Context, donorID string) (*domain.DonorPattern, error) {
	var model DonorPatternModel
	err := r.db.WithContext(ctx).First(&model, "donor_id = ?", donorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return patternModelToDomain(&model), nil
}

func (r *GormPatternRepo) ListByDonorIDs(ctx context.Context, donorIDs []string) (map[string]domain.DonorPattern, error) {
	patterns := make(map[string]domain.DonorPattern, len(donorIDs))
	if len(donorIDs) == 0 {
		return patterns, nil
	}

	var models []DonorPatternModel
	if err := r.db.WithContext(ctx).Where("donor_id IN ?", donorIDs).Find(&models).Error; err != nil {
		return nil, err
	}
	for i := range models {
		patterns[models[i].DonorID] = *patternModelToDomain(&models[i])
	}
	return patterns, nil
}

func (r *GormPatternRepo) Upsert(ctx context.Context, p *domain.DonorPattern) error {
	model := patternModelFromDomain(p)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "donor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"response_rate",
				"avg_response_time",
				"preferred_start_hour",
				"preferred_end_hour",
				"observations",
				"updated_at",
			}),
		}).
		Create(model).Error
}
