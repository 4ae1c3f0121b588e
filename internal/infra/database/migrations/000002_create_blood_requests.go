package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"gorm.io/gorm"
)

func createRequestsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_blood_requests",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.RequestModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RequestModel{})
		},
	}
}
