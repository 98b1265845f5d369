package services

import (
	"context"

	"github.com/vizboard/vizboard-backend/internal/clients/openai"
	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
	"github.com/vizboard/vizboard-backend/internal/viz/prompts"
	"github.com/vizboard/vizboard-backend/internal/viz/schema"
)

// GeneratorService produces a fresh typed payload for a known kind. The raw
// model text never leaves this layer undecoded.
type GeneratorService interface {
	Generate(ctx context.Context, kind viz.Kind, input string) (any, error)
}

type generatorService struct {
	log *logger.Logger
	ai  openai.Client
}

func NewGeneratorService(log *logger.Logger, ai openai.Client) GeneratorService {
	return &generatorService{log: log.With("service", "GeneratorService"), ai: ai}
}

func (s *generatorService) Generate(ctx context.Context, kind viz.Kind, input string) (any, error) {
	const op = "generator.Generate"
	if !viz.ValidKind(kind) {
		return nil, apperr.Newf(apperr.CodeValidation, op, "unsupported kind %q", kind)
	}
	name, jsonSchema := prompts.GenerationSchema(kind)
	raw, err := s.ai.GenerateJSON(ctx, prompts.GenerationSystem(kind), input, name, jsonSchema)
	if err != nil {
		return nil, apperr.New(apperr.CodeUpstreamUnavailable, op, err)
	}
	payload, err := schema.DecodePayload(kind, raw)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Payload generated", "kind", kind)
	return payload, nil
}
