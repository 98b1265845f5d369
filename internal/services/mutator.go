package services

import (
	"context"
	"fmt"

	"github.com/vizboard/vizboard-backend/internal/clients/openai"
	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
	"github.com/vizboard/vizboard-backend/internal/viz/mutate"
	"github.com/vizboard/vizboard-backend/internal/viz/prompts"
	"github.com/vizboard/vizboard-backend/internal/viz/schema"
)

// MutatorService runs the incremental operations on an existing document:
// chat edits and node expansion. Target lookups happen before any model call
// so a bad node id costs nothing.
type MutatorService interface {
	Edit(ctx context.Context, kind viz.Kind, payloadJSON string, history []viz.ConversationEntry, instruction string) (*schema.EditOutcome, error)
	ExpandGraphNode(ctx context.Context, p *viz.GraphPayload, nodeID, sourceText string) (*viz.GraphPayload, int, error)
	ExpandTreeNode(ctx context.Context, p *viz.TreePayload, nodeID string) (*viz.TreePayload, int, error)
}

type mutatorService struct {
	log *logger.Logger
	ai  openai.Client
}

func NewMutatorService(log *logger.Logger, ai openai.Client) MutatorService {
	return &mutatorService{log: log.With("service", "MutatorService"), ai: ai}
}

// Edit replays the document transcript plus the new instruction and decodes
// the replace/reply envelope. A replace outcome arrives fully re-validated
// against the kind schema; the caller decides persistence.
func (s *mutatorService) Edit(ctx context.Context, kind viz.Kind, payloadJSON string, history []viz.ConversationEntry, instruction string) (*schema.EditOutcome, error) {
	const op = "mutator.Edit"
	if !viz.ValidKind(kind) {
		return nil, apperr.Newf(apperr.CodeValidation, op, "unsupported kind %q", kind)
	}

	msgs := make([]openai.Message, 0, len(history)+1)
	for _, e := range history {
		msgs = append(msgs, openai.Message{Role: e.Role, Content: e.Text})
	}
	msgs = append(msgs, openai.Message{Role: viz.RoleUser, Content: prompts.EditUser(payloadJSON, instruction)})

	raw, err := s.ai.GenerateJSONWithHistory(ctx, prompts.EditSystem(kind), msgs, prompts.EditSchemaName, prompts.EditSchema(kind))
	if err != nil {
		return nil, apperr.New(apperr.CodeUpstreamUnavailable, op, err)
	}
	outcome, err := schema.DecodeEditOutcome(kind, raw)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Edit decoded", "kind", kind, "action", outcome.Action)
	return outcome, nil
}

// ExpandGraphNode requests a delta around the target node and merges it
// additively. Existing ids are listed in the prompt to steer the model away
// from collisions; the merge still rejects any that slip through.
func (s *mutatorService) ExpandGraphNode(ctx context.Context, p *viz.GraphPayload, nodeID, sourceText string) (*viz.GraphPayload, int, error) {
	const op = "mutator.ExpandGraphNode"
	if p == nil {
		return nil, 0, apperr.Newf(apperr.CodeValidation, op, "missing payload")
	}

	var target *viz.GraphNode
	existing := make([]string, 0, len(p.Nodes))
	for i := range p.Nodes {
		n := &p.Nodes[i]
		existing = append(existing, fmt.Sprintf("%s: %s", n.ID, n.Label))
		if n.ID == nodeID {
			target = n
		}
	}
	if target == nil {
		return nil, 0, apperr.Newf(apperr.CodeNodeNotFound, op, "node %q not found", nodeID)
	}

	raw, err := s.ai.GenerateJSON(ctx,
		prompts.GraphExpandSystem(),
		prompts.GraphExpandUser(target.ID, target.Label, sourceText, existing),
		prompts.GraphDeltaSchemaName, prompts.GraphDeltaSchema())
	if err != nil {
		return nil, 0, apperr.New(apperr.CodeUpstreamUnavailable, op, err)
	}
	delta, err := schema.DecodeGraphDelta(raw, schema.DefaultDeltaBounds)
	if err != nil {
		return nil, 0, err
	}
	merged, err := mutate.MergeGraphDelta(p, delta)
	if err != nil {
		return nil, 0, err
	}
	s.log.Debug("Graph node expanded", "node_id", nodeID, "new_nodes", len(delta.Nodes), "new_edges", len(delta.Edges))
	return merged, len(delta.Nodes), nil
}

// ExpandTreeNode requests new children for the target node and appends them.
func (s *mutatorService) ExpandTreeNode(ctx context.Context, p *viz.TreePayload, nodeID string) (*viz.TreePayload, int, error) {
	const op = "mutator.ExpandTreeNode"
	if p == nil || p.Root == nil {
		return nil, 0, apperr.Newf(apperr.CodeValidation, op, "missing payload")
	}

	target := mutate.FindTreeNode(p.Root, nodeID)
	if target == nil {
		return nil, 0, apperr.Newf(apperr.CodeNodeNotFound, op, "node %q not found", nodeID)
	}

	raw, err := s.ai.GenerateJSON(ctx,
		prompts.TreeExpandSystem(),
		prompts.TreeExpandUser(target.ID, target.Content, mutate.TreeNodeIDs(p)),
		prompts.TreeChildrenSchemaName, prompts.TreeChildrenSchema())
	if err != nil {
		return nil, 0, apperr.New(apperr.CodeUpstreamUnavailable, op, err)
	}
	children, err := schema.DecodeTreeChildren(raw, schema.DefaultDeltaBounds)
	if err != nil {
		return nil, 0, err
	}
	merged, err := mutate.AppendTreeChildren(p, nodeID, children)
	if err != nil {
		return nil, 0, err
	}
	s.log.Debug("Tree node expanded", "node_id", nodeID, "new_children", len(children))
	return merged, len(children), nil
}
