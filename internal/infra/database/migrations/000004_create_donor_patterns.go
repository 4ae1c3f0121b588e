package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"gorm.io/gorm"
)

func createPatternsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_donor_patterns",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.DonorPatternModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DonorPatternModel{})
		},
	}
}
