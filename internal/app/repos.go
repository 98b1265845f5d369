package app

import (
	"gorm.io/gorm"

	accountrepo "github.com/vizboard/vizboard-backend/internal/data/repos/account"
	vizrepo "github.com/vizboard/vizboard-backend/internal/data/repos/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

type Repos struct {
	Visualization vizrepo.VisualizationRepo
	UsageAccount  accountrepo.UsageAccountRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Visualization: vizrepo.NewVisualizationRepo(db, log),
		UsageAccount:  accountrepo.NewUsageAccountRepo(db, log),
	}
}
