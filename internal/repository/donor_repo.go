package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"gorm.io/gorm"
)

type GormDonorRepo struct {
	db *gorm.DB
}

func NewGormDonorRepo(db *gorm.DB) *GormDonorRepo {
	return &GormDonorRepo{db: db}
}

func (r *GormDonorRepo) Create(ctx context.Context, d *domain.Donor) error {
	model := donorModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *donorModelToDomain(model)
	}
	return nil
}

func (r *GormDonorRepo) GetByID(ctx context.Context, id string) (*domain.Donor, error) {
	var model DonorModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return donorModelToDomain(&model), nil
}

func (r *GormDonorRepo) ListByBloodType(ctx context.Context, bloodType domain.BloodType, status domain.ApprovalStatus) ([]domain.Donor, error) {
	var models []DonorModel
	err := r.db.WithContext(ctx).
		Where("blood_type = ? AND approval_status = ?", bloodType, status).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	donors := make([]domain.Donor, 0, len(models))
	for i := range models {
		donors = append(donors, *donorModelToDomain(&models[i]))
	}
	return donors, nil
}

// Update writes the mutable donor columns: approval, rewards and last donation.
func (r *GormDonorRepo) Update(ctx context.Context, d *domain.Donor) error {
	result := r.db.WithContext(ctx).
		Model(&DonorModel{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{
			"approval_status": d.ApprovalStatus,
			"donations":       d.Donations,
			"points":          d.Points,
			"last_donation":   d.LastDonation,
			"updated_at":      d.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
