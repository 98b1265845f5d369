package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	vizrepo "github.com/vizboard/vizboard-backend/internal/data/repos/viz"
	account "github.com/vizboard/vizboard-backend/internal/domain/account"
	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
	"github.com/vizboard/vizboard-backend/internal/viz/schema"
)

// Request size ceilings, enforced before any admission check or model call.
const (
	MaxInputChars       = 4000
	MaxInstructionChars = 2000
	MaxNodeIDChars      = 128
	MaxTitleChars       = 200
)

// Flat token costs per model-backed operation, added to the length-derived
// component (len/4 approximates tokens for English text).
const (
	costGeneration int64 = 800
	costEdit       int64 = 600
	costExpansion  int64 = 400
)

// EstimateCost is the admission cost for a model-backed operation over text.
func EstimateCost(text string, flat int64) int64 {
	return int64(len(text))/4 + flat
}

// CreateResult is the outcome of a create request. Document is nil when the
// selector judged the input not visualizable; Selection always carries the
// decision and its reason.
type CreateResult struct {
	Document  *viz.Visualization
	Selection *schema.Selection
}

// EditResult pairs the updated document with the assistant's reply and
// whether the structure actually changed.
type EditResult struct {
	Document *viz.Visualization
	Reply    string
	Changed  bool
}

// VisualizationService orchestrates the pipeline: admission, selection,
// generation, mutation, persistence and the conversation transcript. Charges
// are applied only after an operation concretely succeeded; a failed charge
// is logged, never retried, and never rolls back the work.
type VisualizationService interface {
	Create(ctx context.Context, userID uuid.UUID, input string) (*CreateResult, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*viz.Visualization, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*viz.Visualization, error)
	Edit(ctx context.Context, userID, id uuid.UUID, instruction string) (*EditResult, error)
	ExpandNode(ctx context.Context, userID, id uuid.UUID, nodeID string) (*viz.Visualization, error)
	Rename(ctx context.Context, userID, id uuid.UUID, title string) (*viz.Visualization, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Export(ctx context.Context, userID, id uuid.UUID) ([]byte, string, error)
	Share(ctx context.Context, userID, id uuid.UUID) (string, error)
}

type visualizationService struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      vizrepo.VisualizationRepo
	selector  FormatSelectorService
	generator GeneratorService
	mutator   MutatorService
	admission AdmissionService
	modelName string
	now       func() time.Time
}

func NewVisualizationService(
	db *gorm.DB,
	log *logger.Logger,
	repo vizrepo.VisualizationRepo,
	selector FormatSelectorService,
	generator GeneratorService,
	mutator MutatorService,
	admission AdmissionService,
	modelName string,
) VisualizationService {
	return &visualizationService{
		db:        db,
		log:       log.With("service", "VisualizationService"),
		repo:      repo,
		selector:  selector,
		generator: generator,
		mutator:   mutator,
		admission: admission,
		modelName: modelName,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func deniedError(op string, dec *AdmissionDecision) error {
	e := apperr.Newf(apperr.CodeAdmissionDenied, op, "denied: %s", dec.Reason)
	e.Remaining = dec.Remaining
	e.ResetAt = dec.ResetAt
	return e
}

func (s *visualizationService) admit(ctx context.Context, op string, userID uuid.UUID, class account.OperationClass, cost int64) (*AdmissionDecision, error) {
	dec, err := s.admission.CheckAdmission(ctx, userID, class, cost)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, deniedError(op, dec)
	}
	return dec, nil
}

// charge applies the cost after success. Failure here is an accounting gap,
// not an operation failure: log and move on.
func (s *visualizationService) charge(ctx context.Context, userID uuid.UUID, cost int64) {
	if err := s.admission.Charge(ctx, userID, cost); err != nil {
		s.log.Error("Usage charge failed", "user_id", userID, "cost", cost, "error", err)
	}
}

func (s *visualizationService) Create(ctx context.Context, userID uuid.UUID, input string) (*CreateResult, error) {
	const op = "visualization.Create"
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, apperr.Newf(apperr.CodeValidation, op, "empty input")
	}
	if len(input) > MaxInputChars {
		return nil, apperr.Newf(apperr.CodeValidation, op, "input exceeds %d characters", MaxInputChars)
	}

	cost := EstimateCost(input, costGeneration)
	if _, err := s.admit(ctx, op, userID, account.OpGeneration, cost); err != nil {
		return nil, err
	}

	sel, err := s.selector.Select(ctx, input)
	if err != nil {
		return nil, err
	}
	if !sel.Visualizable || sel.Kind == viz.KindNone {
		// No document, no charge. The reason travels back to the caller.
		return &CreateResult{Selection: sel}, nil
	}

	payload, err := s.generator.Generate(ctx, sel.Kind, input)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}

	now := s.now()
	conversation := []viz.ConversationEntry{
		{Role: viz.RoleUser, Text: input, CreatedAt: now},
		{Role: viz.RoleAssistant, Text: fmt.Sprintf("Generated a %s from your text.", sel.Kind), CreatedAt: now},
	}
	convJSON, err := json.Marshal(conversation)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}

	doc, err := s.repo.Create(ctx, nil, &viz.Visualization{
		UserID:       userID,
		Kind:         sel.Kind,
		Title:        deriveTitle(input),
		Payload:      datatypes.JSON(payloadJSON),
		Conversation: datatypes.JSON(convJSON),
		SourceText:   input,
		Model:        s.modelName,
		CostEstimate: cost,
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}

	s.charge(ctx, userID, cost)
	s.log.Info("Visualization created", "id", doc.ID, "kind", doc.Kind, "user_id", userID)
	return &CreateResult{Document: doc, Selection: sel}, nil
}

func (s *visualizationService) Get(ctx context.Context, userID, id uuid.UUID) (*viz.Visualization, error) {
	const op = "visualization.Get"
	doc, err := s.repo.GetByIDForUser(ctx, nil, id, userID)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if doc == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, op, "visualization %s not found", id)
	}
	return doc, nil
}

func (s *visualizationService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*viz.Visualization, error) {
	const op = "visualization.List"
	out, err := s.repo.ListByUser(ctx, nil, userID, limit)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	return out, nil
}

// Edit runs a chat-edit turn. Success appends the user instruction and the
// assistant reply to the transcript; a failed model turn appends the
// instruction and an error-describing assistant entry so the transcript
// reflects what actually happened, then returns the original error.
func (s *visualizationService) Edit(ctx context.Context, userID, id uuid.UUID, instruction string) (*EditResult, error) {
	const op = "visualization.Edit"
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, apperr.Newf(apperr.CodeValidation, op, "empty instruction")
	}
	if len(instruction) > MaxInstructionChars {
		return nil, apperr.Newf(apperr.CodeValidation, op, "instruction exceeds %d characters", MaxInstructionChars)
	}

	cost := EstimateCost(instruction, costEdit)
	if _, err := s.admit(ctx, op, userID, account.OpGeneration, cost); err != nil {
		return nil, err
	}

	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	history, err := decodeConversation(doc.Conversation)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}

	outcome, mErr := s.mutator.Edit(ctx, doc.Kind, string(doc.Payload), history, instruction)
	if mErr != nil {
		s.recordFailedTurn(ctx, doc, history, instruction, mErr)
		return nil, mErr
	}

	now := s.now()
	reply := outcome.Reply
	if reply == "" {
		reply = "Applied your change."
	}
	history = append(history,
		viz.ConversationEntry{Role: viz.RoleUser, Text: instruction, CreatedAt: now},
		viz.ConversationEntry{Role: viz.RoleAssistant, Text: reply, CreatedAt: now},
	)
	convJSON, err := json.Marshal(history)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}

	updates := map[string]interface{}{
		"conversation":  datatypes.JSON(convJSON),
		"model":         s.modelName,
		"cost_estimate": gorm.Expr("cost_estimate + ?", cost),
	}
	changed := outcome.Action == schema.EditActionReplace
	if changed {
		payloadJSON, err := json.Marshal(outcome.Payload)
		if err != nil {
			return nil, apperr.New(apperr.CodeInternal, op, err)
		}
		updates["payload"] = datatypes.JSON(payloadJSON)
		doc.Payload = datatypes.JSON(payloadJSON)
	}

	matched, err := s.repo.UpdateFieldsForUser(ctx, nil, id, userID, updates)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if !matched {
		return nil, apperr.Newf(apperr.CodeNotFound, op, "visualization %s not found", id)
	}
	doc.Conversation = datatypes.JSON(convJSON)

	s.charge(ctx, userID, cost)
	s.log.Info("Visualization edited", "id", id, "user_id", userID, "changed", changed)
	return &EditResult{Document: doc, Reply: reply, Changed: changed}, nil
}

// recordFailedTurn persists the failed edit turn into the transcript. The
// payload is untouched; a persistence failure here only logs.
func (s *visualizationService) recordFailedTurn(ctx context.Context, doc *viz.Visualization, history []viz.ConversationEntry, instruction string, cause error) {
	now := s.now()
	history = append(history,
		viz.ConversationEntry{Role: viz.RoleUser, Text: instruction, CreatedAt: now},
		viz.ConversationEntry{Role: viz.RoleAssistant, Text: "I couldn't apply that change: " + failureSummary(cause), CreatedAt: now},
	)
	convJSON, err := json.Marshal(history)
	if err != nil {
		s.log.Error("Failed-turn transcript marshal failed", "id", doc.ID, "error", err)
		return
	}
	if _, err := s.repo.UpdateFieldsForUser(ctx, nil, doc.ID, doc.UserID, map[string]interface{}{
		"conversation": datatypes.JSON(convJSON),
	}); err != nil {
		s.log.Error("Failed-turn transcript persist failed", "id", doc.ID, "error", err)
	}
}

func failureSummary(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeContractViolation:
		return "the model returned an invalid document."
	case apperr.CodeUpstreamUnavailable:
		return "the model service was unavailable."
	default:
		return "an internal error occurred."
	}
}

// ExpandNode grows the document around one node. Only graph and hierarchical
// kinds support expansion; the target is resolved before the model call, so a
// missing node id costs nothing and leaves the payload byte-identical.
func (s *visualizationService) ExpandNode(ctx context.Context, userID, id uuid.UUID, nodeID string) (*viz.Visualization, error) {
	const op = "visualization.ExpandNode"
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" || len(nodeID) > MaxNodeIDChars {
		return nil, apperr.Newf(apperr.CodeValidation, op, "invalid node id")
	}

	cost := EstimateCost(nodeID, costExpansion)
	if _, err := s.admit(ctx, op, userID, account.OpExpansion, cost); err != nil {
		return nil, err
	}

	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if doc.Kind != viz.KindNetworkGraph && !viz.IsHierarchical(doc.Kind) {
		return nil, apperr.Newf(apperr.CodeValidation, op, "kind %q does not support node expansion", doc.Kind)
	}

	stored, err := schema.ValidateStoredPayload(doc.Kind, []byte(doc.Payload))
	if err != nil {
		return nil, err
	}

	var merged any
	switch p := stored.(type) {
	case *viz.GraphPayload:
		merged, _, err = s.mutator.ExpandGraphNode(ctx, p, nodeID, doc.SourceText)
	case *viz.TreePayload:
		merged, _, err = s.mutator.ExpandTreeNode(ctx, p, nodeID)
	default:
		return nil, apperr.Newf(apperr.CodeInternal, op, "unexpected payload type for kind %q", doc.Kind)
	}
	if err != nil {
		return nil, err
	}

	payloadJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	matched, err := s.repo.UpdateFieldsForUser(ctx, nil, id, userID, map[string]interface{}{
		"payload":       datatypes.JSON(payloadJSON),
		"model":         s.modelName,
		"cost_estimate": gorm.Expr("cost_estimate + ?", cost),
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if !matched {
		return nil, apperr.Newf(apperr.CodeNotFound, op, "visualization %s not found", id)
	}
	doc.Payload = datatypes.JSON(payloadJSON)

	s.charge(ctx, userID, cost)
	s.log.Info("Node expanded", "id", id, "node_id", nodeID, "user_id", userID)
	return doc, nil
}

func (s *visualizationService) Rename(ctx context.Context, userID, id uuid.UUID, title string) (*viz.Visualization, error) {
	const op = "visualization.Rename"
	title = strings.TrimSpace(title)
	if title == "" || len(title) > MaxTitleChars {
		return nil, apperr.Newf(apperr.CodeValidation, op, "title must be 1-%d characters", MaxTitleChars)
	}
	if _, err := s.admit(ctx, op, userID, account.OpSave, 0); err != nil {
		return nil, err
	}
	matched, err := s.repo.UpdateFieldsForUser(ctx, nil, id, userID, map[string]interface{}{"title": title})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if !matched {
		return nil, apperr.Newf(apperr.CodeNotFound, op, "visualization %s not found", id)
	}
	return s.Get(ctx, userID, id)
}

func (s *visualizationService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	const op = "visualization.Delete"
	if _, err := s.admit(ctx, op, userID, account.OpDelete, 0); err != nil {
		return err
	}
	matched, err := s.repo.SoftDeleteForUser(ctx, nil, id, userID)
	if err != nil {
		return apperr.New(apperr.CodeInternal, op, err)
	}
	if !matched {
		return apperr.Newf(apperr.CodeNotFound, op, "visualization %s not found", id)
	}
	s.log.Info("Visualization deleted", "id", id, "user_id", userID)
	return nil
}

// exportEnvelope is the self-describing download format.
type exportEnvelope struct {
	ID         uuid.UUID       `json:"id"`
	Kind       viz.Kind        `json:"kind"`
	Title      string          `json:"title"`
	Payload    json.RawMessage `json:"payload"`
	SourceText string          `json:"source_text"`
	Model      string          `json:"model,omitempty"`
	ExportedAt time.Time       `json:"exported_at"`
}

func (s *visualizationService) Export(ctx context.Context, userID, id uuid.UUID) ([]byte, string, error) {
	const op = "visualization.Export"
	if _, err := s.admit(ctx, op, userID, account.OpExport, 0); err != nil {
		return nil, "", err
	}
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	out, err := json.MarshalIndent(exportEnvelope{
		ID:         doc.ID,
		Kind:       doc.Kind,
		Title:      doc.Title,
		Payload:    json.RawMessage(doc.Payload),
		SourceText: doc.SourceText,
		Model:      doc.Model,
		ExportedAt: s.now(),
	}, "", "  ")
	if err != nil {
		return nil, "", apperr.New(apperr.CodeInternal, op, err)
	}
	filename := fmt.Sprintf("%s-%s.json", doc.Kind, doc.ID)
	return out, filename, nil
}

// Share mints (or returns the existing) opaque share token for a document.
func (s *visualizationService) Share(ctx context.Context, userID, id uuid.UUID) (string, error) {
	const op = "visualization.Share"
	if _, err := s.admit(ctx, op, userID, account.OpShare, 0); err != nil {
		return "", err
	}
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if doc.ShareToken != "" {
		return doc.ShareToken, nil
	}
	token := uuid.NewString()
	matched, err := s.repo.UpdateFieldsForUser(ctx, nil, id, userID, map[string]interface{}{"share_token": token})
	if err != nil {
		return "", apperr.New(apperr.CodeInternal, op, err)
	}
	if !matched {
		return "", apperr.Newf(apperr.CodeNotFound, op, "visualization %s not found", id)
	}
	s.log.Info("Share token minted", "id", id, "user_id", userID)
	return token, nil
}

func decodeConversation(raw datatypes.JSON) ([]viz.ConversationEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []viz.ConversationEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return out, nil
}

// deriveTitle takes the first line of the input, clipped to the title bound.
func deriveTitle(input string) string {
	line := input
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "Untitled visualization"
	}
	const clip = 60
	if runes := []rune(line); len(runes) > clip {
		line = strings.TrimSpace(string(runes[:clip])) + "…"
	}
	return line
}
