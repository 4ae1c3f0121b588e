package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"gorm.io/gorm"
)

func createEscalationLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_escalation_logs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.EscalationLogModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EscalationLogModel{})
		},
	}
}
