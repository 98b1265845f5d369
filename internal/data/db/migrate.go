package db

import (
	"gorm.io/gorm"

	"github.com/vizboard/vizboard-backend/internal/domain/account"
	"github.com/vizboard/vizboard-backend/internal/domain/viz"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&viz.Visualization{},
		&account.UsageAccount{},
	)
}
