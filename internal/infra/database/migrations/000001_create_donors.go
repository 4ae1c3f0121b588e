package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"gorm.io/gorm"
)

func createDonorsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_donors",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.DonorModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DonorModel{})
		},
	}
}
