package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/vizboard/vizboard-backend/internal/config"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
	"github.com/vizboard/vizboard-backend/internal/services"
)

type Services struct {
	Admission     services.AdmissionService
	Selector      services.FormatSelectorService
	Generator     services.GeneratorService
	Mutator       services.MutatorService
	Visualization services.VisualizationService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients, repos Repos) (Services, error) {
	log.Info("Wiring services...")

	limits, err := config.LoadLimits(cfg.LimitsPath, log)
	if err != nil {
		return Services{}, fmt.Errorf("load limits: %w", err)
	}

	admission := services.NewAdmissionService(db, log, repos.UsageAccount, clients.KV, limits)
	selector := services.NewFormatSelectorService(log, clients.OpenAI)
	generator := services.NewGeneratorService(log, clients.OpenAI)
	mutator := services.NewMutatorService(log, clients.OpenAI)
	visualization := services.NewVisualizationService(
		db, log,
		repos.Visualization,
		selector, generator, mutator, admission,
		clients.OpenAI.Model(),
	)

	return Services{
		Admission:     admission,
		Selector:      selector,
		Generator:     generator,
		Mutator:       mutator,
		Visualization: visualization,
	}, nil
}
