package services

import (
	"context"

	"github.com/vizboard/vizboard-backend/internal/clients/openai"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
	"github.com/vizboard/vizboard-backend/internal/viz/prompts"
	"github.com/vizboard/vizboard-backend/internal/viz/schema"
)

// FormatSelectorService classifies free text into a visualization kind, or
// reports it not visualizable. It never guesses outside the closed kind set.
type FormatSelectorService interface {
	Select(ctx context.Context, input string) (*schema.Selection, error)
}

type formatSelectorService struct {
	log *logger.Logger
	ai  openai.Client
}

func NewFormatSelectorService(log *logger.Logger, ai openai.Client) FormatSelectorService {
	return &formatSelectorService{log: log.With("service", "FormatSelectorService"), ai: ai}
}

func (s *formatSelectorService) Select(ctx context.Context, input string) (*schema.Selection, error) {
	const op = "selector.Select"
	raw, err := s.ai.GenerateJSON(ctx, prompts.SelectionSystem(), input, prompts.SelectionSchemaName, prompts.SelectionSchema())
	if err != nil {
		return nil, apperr.New(apperr.CodeUpstreamUnavailable, op, err)
	}
	sel, err := schema.DecodeSelection(raw)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Format selected", "visualizable", sel.Visualizable, "kind", sel.Kind)
	return sel, nil
}
