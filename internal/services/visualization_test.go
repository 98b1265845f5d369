package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vizboard/vizboard-backend/internal/clients/openai"
	types "github.com/vizboard/vizboard-backend/internal/domain/account"
	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/viz/prompts"
)

// fakeAI routes scripted responses by schema name. historyFn, when set,
// scripts history-replayed calls from the replayed turns instead.
type fakeAI struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
	historyFn func(history []openai.Message) (string, error)
}

func newFakeAI() *fakeAI {
	return &fakeAI{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeAI) respond(schemaName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, schemaName)
	if err, ok := f.errs[schemaName]; ok {
		return "", err
	}
	raw, ok := f.responses[schemaName]
	if !ok {
		return "", errors.New("no scripted response for " + schemaName)
	}
	return raw, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, jsonSchema map[string]any) (string, error) {
	return f.respond(schemaName)
}

func (f *fakeAI) GenerateJSONWithHistory(ctx context.Context, system string, history []openai.Message, schemaName string, jsonSchema map[string]any) (string, error) {
	f.mu.Lock()
	fn := f.historyFn
	if fn != nil {
		f.calls = append(f.calls, schemaName)
	}
	f.mu.Unlock()
	if fn != nil {
		return fn(history)
	}
	return f.respond(schemaName)
}

func (f *fakeAI) Model() string { return "test-model" }

func (f *fakeAI) callCount(schemaName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == schemaName {
			n++
		}
	}
	return n
}

// fakeVizRepo is an in-memory VisualizationRepo.
type fakeVizRepo struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*viz.Visualization
	reads int
}

func newFakeVizRepo() *fakeVizRepo {
	return &fakeVizRepo{rows: map[uuid.UUID]*viz.Visualization{}}
}

func (f *fakeVizRepo) Create(ctx context.Context, tx *gorm.DB, row *viz.Visualization) (*viz.Visualization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	cp := *row
	f.rows[row.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeVizRepo) GetByIDForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*viz.Visualization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	row, ok := f.rows[id]
	if !ok || row.UserID != userID {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeVizRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*viz.Visualization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*viz.Visualization
	for _, row := range f.rows {
		if row.UserID == userID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeVizRepo) UpdateFieldsForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.UserID != userID {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "payload":
			row.Payload = v.(datatypes.JSON)
		case "conversation":
			row.Conversation = v.(datatypes.JSON)
		case "title":
			row.Title = v.(string)
		case "share_token":
			row.ShareToken = v.(string)
		case "model":
			row.Model = v.(string)
		}
	}
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeVizRepo) SoftDeleteForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.UserID != userID {
		return false, nil
	}
	delete(f.rows, id)
	return true, nil
}

func (f *fakeVizRepo) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeVizRepo) stored(id uuid.UUID) *viz.Visualization {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		cp := *row
		return &cp
	}
	return nil
}

const selGraph = `{"visualizable": true, "kind": "network_graph", "reason": "entities and relations"}`
const selNone = `{"visualizable": false, "kind": "none", "reason": "no visual structure"}`

const genGraph = `{"nodes":[
{"id":"n1","label":"A","description":"","category":""},
{"id":"n2","label":"B","description":"","category":""},
{"id":"n3","label":"C","description":"","category":""}],
"edges":[{"id":"e1","source":"n1","target":"n2","label":"links"}]}`

type pipeline struct {
	svc      VisualizationService
	ai       *fakeAI
	repo     *fakeVizRepo
	accounts *fakeAccounts
}

func newPipeline(t *testing.T, ai *fakeAI) *pipeline {
	t.Helper()
	log := testLogger(t)
	accounts := newFakeAccounts()
	admission := newTestAdmission(t, accounts, newFakeKV())
	repo := newFakeVizRepo()
	svc := NewVisualizationService(
		nil, log, repo,
		NewFormatSelectorService(log, ai),
		NewGeneratorService(log, ai),
		NewMutatorService(log, ai),
		admission,
		ai.Model(),
	)
	return &pipeline{svc: svc, ai: ai, repo: repo, accounts: accounts}
}

func TestCreatePipeline(t *testing.T) {
	ai := newFakeAI()
	ai.responses[prompts.SelectionSchemaName] = selGraph
	ai.responses[prompts.GraphSchemaName] = genGraph
	p := newPipeline(t, ai)
	userID := uuid.New()
	input := "The service talks to the cache which talks to the database."

	res, err := p.svc.Create(context.Background(), userID, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := res.Document
	if doc == nil || doc.Kind != viz.KindNetworkGraph {
		t.Fatalf("unexpected result: %+v", res)
	}
	if doc.Model != "test-model" || doc.SourceText != input {
		t.Fatalf("provenance not recorded: %+v", doc)
	}

	var entries []viz.ConversationEntry
	if err := json.Unmarshal(doc.Conversation, &entries); err != nil {
		t.Fatalf("bad conversation: %v", err)
	}
	if len(entries) != 2 || entries[0].Role != viz.RoleUser || entries[1].Role != viz.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", entries)
	}

	wantCost := EstimateCost(input, costGeneration)
	if used := p.accounts.used(userID); used != wantCost {
		t.Fatalf("expected charge %d, got %d", wantCost, used)
	}
}

func TestCreateNotVisualizableSkipsGenerationAndCharge(t *testing.T) {
	ai := newFakeAI()
	ai.responses[prompts.SelectionSchemaName] = selNone
	p := newPipeline(t, ai)
	userID := uuid.New()

	res, err := p.svc.Create(context.Background(), userID, "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Document != nil {
		t.Fatalf("expected no document, got %+v", res.Document)
	}
	if res.Selection.Reason == "" {
		t.Fatal("expected reason")
	}
	if n := ai.callCount(prompts.GraphSchemaName); n != 0 {
		t.Fatalf("generator was called %d times", n)
	}
	if used := p.accounts.used(userID); used != 0 {
		t.Fatalf("charged without a document: %d", used)
	}
}

func TestCreateRejectsOversizedInput(t *testing.T) {
	p := newPipeline(t, newFakeAI())
	big := make([]byte, MaxInputChars+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := p.svc.Create(context.Background(), uuid.New(), string(big))
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateContractViolationDoesNotCharge(t *testing.T) {
	ai := newFakeAI()
	ai.responses[prompts.SelectionSchemaName] = selGraph
	// Dangling edge: generation output is rejected, never truncated.
	ai.responses[prompts.GraphSchemaName] = `{"nodes":[
{"id":"n1","label":"A","description":"","category":""},
{"id":"n2","label":"B","description":"","category":""},
{"id":"n3","label":"C","description":"","category":""}],
"edges":[{"id":"e1","source":"n1","target":"ghost","label":""}]}`
	p := newPipeline(t, ai)
	userID := uuid.New()

	_, err := p.svc.Create(context.Background(), userID, "some text")
	if apperr.CodeOf(err) != apperr.CodeContractViolation {
		t.Fatalf("expected contract_violation, got %v", err)
	}
	if used := p.accounts.used(userID); used != 0 {
		t.Fatalf("charged on failure: %d", used)
	}
}

func TestCreateDeniedWhenBalanceExhausted(t *testing.T) {
	ai := newFakeAI()
	ai.responses[prompts.SelectionSchemaName] = selGraph
	ai.responses[prompts.GraphSchemaName] = genGraph
	p := newPipeline(t, ai)
	userID := uuid.New()
	p.accounts.byUser[userID] = &types.UsageAccount{
		ID: uuid.New(), UserID: userID, Tier: types.TierFree,
		TokensUsed: 49_995, TokensLimit: 50_000,
		ResetDate: time.Now().UTC().AddDate(0, 0, 7),
	}

	_, err := p.svc.Create(context.Background(), userID, "some text")
	ae, ok := apperr.As(err)
	if !ok || ae.Code != apperr.CodeAdmissionDenied {
		t.Fatalf("expected admission_denied, got %v", err)
	}
	if ae.Remaining != 5 {
		t.Fatalf("expected remaining 5, got %d", ae.Remaining)
	}
	if n := ai.callCount(prompts.SelectionSchemaName); n != 0 {
		t.Fatalf("selector called despite denial: %d", n)
	}
}

func seedGraphDoc(t *testing.T, p *pipeline, userID uuid.UUID) *viz.Visualization {
	t.Helper()
	conv, _ := json.Marshal([]viz.ConversationEntry{
		{Role: viz.RoleUser, Text: "original input", CreatedAt: time.Now().UTC()},
		{Role: viz.RoleAssistant, Text: "Generated a network_graph from your text.", CreatedAt: time.Now().UTC()},
	})
	doc, err := p.repo.Create(context.Background(), nil, &viz.Visualization{
		UserID:       userID,
		Kind:         viz.KindNetworkGraph,
		Title:        "seed",
		Payload:      datatypes.JSON(genGraph),
		Conversation: datatypes.JSON(conv),
		SourceText:   "original input",
	})
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestEditReplyLeavesPayloadUntouched(t *testing.T) {
	ai := newFakeAI()
	ai.responses[prompts.EditSchemaName] = `{"action":"reply","payload":null,"reply":"it has three nodes"}`
	p := newPipeline(t, ai)
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	res, err := p.svc.Edit(context.Background(), userID, doc.ID, "how many nodes are there?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Changed {
		t.Fatal("reply outcome marked as changed")
	}
	if res.Reply != "it has three nodes" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
	stored := p.repo.stored(doc.ID)
	if string(stored.Payload) != genGraph {
		t.Fatal("payload changed on a reply-only turn")
	}
	var entries []viz.ConversationEntry
	if err := json.Unmarshal(stored.Conversation, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 transcript entries, got %d", len(entries))
	}
	if used := p.accounts.used(userID); used == 0 {
		t.Fatal("successful edit was not charged")
	}
}

func TestEditReplaceUpdatesPayload(t *testing.T) {
	ai := newFakeAI()
	replacement := `{"nodes":[
{"id":"n1","label":"A","description":"","category":""},
{"id":"n2","label":"B","description":"","category":""},
{"id":"n3","label":"C renamed","description":"","category":""}],
"edges":[{"id":"e1","source":"n1","target":"n2","label":"links"}]}`
	ai.responses[prompts.EditSchemaName] = `{"action":"replace","payload":` + replacement + `,"reply":"renamed the third node"}`
	p := newPipeline(t, ai)
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	res, err := p.svc.Edit(context.Background(), userID, doc.ID, "rename C")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Changed {
		t.Fatal("replace outcome not marked changed")
	}
	stored := p.repo.stored(doc.ID)
	var payload viz.GraphPayload
	if err := json.Unmarshal(stored.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Nodes[2].Label != "C renamed" {
		t.Fatalf("replacement not persisted: %+v", payload.Nodes)
	}
}

func TestEditFailureAppendsErrorTurnAndSkipsCharge(t *testing.T) {
	ai := newFakeAI()
	ai.errs[prompts.EditSchemaName] = errors.New("model offline")
	p := newPipeline(t, ai)
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	_, err := p.svc.Edit(context.Background(), userID, doc.ID, "remove node B")
	if apperr.CodeOf(err) != apperr.CodeUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %v", err)
	}

	stored := p.repo.stored(doc.ID)
	if string(stored.Payload) != genGraph {
		t.Fatal("payload changed on a failed edit")
	}
	var entries []viz.ConversationEntry
	if err := json.Unmarshal(stored.Conversation, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected failed turn in transcript, got %d entries", len(entries))
	}
	if entries[3].Role != viz.RoleAssistant {
		t.Fatalf("last entry should be the assistant error: %+v", entries[3])
	}
	if used := p.accounts.used(userID); used != 0 {
		t.Fatalf("charged on failure: %d", used)
	}
}

func TestExpandNodeGrowsGraph(t *testing.T) {
	ai := newFakeAI()
	ai.responses[prompts.GraphDeltaSchemaName] = `{"nodes":[
{"id":"n4","label":"D","description":"","category":""}],
"edges":[{"id":"e2","source":"n4","target":"n2","label":"extends"}]}`
	p := newPipeline(t, ai)
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	updated, err := p.svc.ExpandNode(context.Background(), userID, doc.ID, "n2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var payload viz.GraphPayload
	if err := json.Unmarshal(updated.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Nodes) != 4 || len(payload.Edges) != 2 {
		t.Fatalf("delta not merged: %d nodes, %d edges", len(payload.Nodes), len(payload.Edges))
	}
	// Existing ids untouched.
	if payload.Nodes[0].ID != "n1" || payload.Edges[0].ID != "e1" {
		t.Fatalf("existing elements disturbed: %+v", payload)
	}
	if used := p.accounts.used(userID); used == 0 {
		t.Fatal("successful expand was not charged")
	}
}

func TestExpandNodeMissingTargetLeavesPayloadByteIdentical(t *testing.T) {
	ai := newFakeAI()
	p := newPipeline(t, ai)
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	_, err := p.svc.ExpandNode(context.Background(), userID, doc.ID, "ghost")
	if apperr.CodeOf(err) != apperr.CodeNodeNotFound {
		t.Fatalf("expected node_not_found, got %v", err)
	}
	stored := p.repo.stored(doc.ID)
	if string(stored.Payload) != genGraph {
		t.Fatal("payload not byte-identical after failed expand")
	}
	if n := ai.callCount(prompts.GraphDeltaSchemaName); n != 0 {
		t.Fatalf("model called for a missing node: %d", n)
	}
	if used := p.accounts.used(userID); used != 0 {
		t.Fatalf("charged for a missing node: %d", used)
	}
}

func TestExpandNodeRejectsUnsupportedKind(t *testing.T) {
	p := newPipeline(t, newFakeAI())
	userID := uuid.New()
	conv, _ := json.Marshal([]viz.ConversationEntry{})
	doc, err := p.repo.Create(context.Background(), nil, &viz.Visualization{
		UserID:       userID,
		Kind:         viz.KindTimeline,
		Payload:      datatypes.JSON(`{"events":[{"id":"e1","title":"T","description":"","date":"1990","end_date":""}]}`),
		Conversation: datatypes.JSON(conv),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, expandErr := p.svc.ExpandNode(context.Background(), userID, doc.ID, "e1")
	if apperr.CodeOf(expandErr) != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", expandErr)
	}
}

func TestGetScopedToOwner(t *testing.T) {
	p := newPipeline(t, newFakeAI())
	owner := uuid.New()
	doc := seedGraphDoc(t, p, owner)

	_, err := p.svc.Get(context.Background(), uuid.New(), doc.ID)
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Fatalf("foreign owner should see not_found, got %v", err)
	}
}

func TestShareTokenIsStable(t *testing.T) {
	p := newPipeline(t, newFakeAI())
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	tok1, err := p.svc.Share(context.Background(), userID, doc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok2, err := p.svc.Share(context.Background(), userID, doc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok1 == "" || tok1 != tok2 {
		t.Fatalf("expected a stable token, got %q and %q", tok1, tok2)
	}
}

func TestExportEnvelope(t *testing.T) {
	p := newPipeline(t, newFakeAI())
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	data, filename, err := p.svc.Export(context.Background(), userID, doc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filename == "" {
		t.Fatal("missing filename")
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if env["kind"] != string(viz.KindNetworkGraph) {
		t.Fatalf("unexpected export envelope: %v", env)
	}
}

func TestEditDeniedBeforeStoreRead(t *testing.T) {
	p := newPipeline(t, newFakeAI())
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)
	p.accounts.byUser[userID] = &types.UsageAccount{
		ID: uuid.New(), UserID: userID, Tier: types.TierFree,
		TokensUsed: 50_000, TokensLimit: 50_000,
		ResetDate: time.Now().UTC().AddDate(0, 0, 7),
	}

	_, err := p.svc.Edit(context.Background(), userID, doc.ID, "remove node B")
	if apperr.CodeOf(err) != apperr.CodeAdmissionDenied {
		t.Fatalf("expected admission_denied, got %v", err)
	}
	if n := p.repo.readCount(); n != 0 {
		t.Fatalf("denied edit read the store %d times", n)
	}
}

func TestConcurrentEditsEachCallerGetsOwnResult(t *testing.T) {
	replA := `{"nodes":[
{"id":"n1","label":"A","description":"","category":""},
{"id":"n2","label":"alpha","description":"","category":""},
{"id":"n3","label":"C","description":"","category":""}],
"edges":[{"id":"e1","source":"n1","target":"n2","label":"links"}]}`
	replB := `{"nodes":[
{"id":"n1","label":"A","description":"","category":""},
{"id":"n2","label":"beta","description":"","category":""},
{"id":"n3","label":"C","description":"","category":""}],
"edges":[{"id":"e1","source":"n1","target":"n2","label":"links"}]}`

	ai := newFakeAI()
	ai.historyFn = func(history []openai.Message) (string, error) {
		last := history[len(history)-1].Content
		switch {
		case strings.Contains(last, "rename B to alpha"):
			return `{"action":"replace","payload":` + replA + `,"reply":"renamed B to alpha"}`, nil
		case strings.Contains(last, "rename B to beta"):
			return `{"action":"replace","payload":` + replB + `,"reply":"renamed B to beta"}`, nil
		}
		return "", errors.New("unexpected turn: " + last)
	}
	p := newPipeline(t, ai)
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	var wg sync.WaitGroup
	results := make([]*EditResult, 2)
	errs := make([]error, 2)
	for i, instruction := range []string{"rename B to alpha", "rename B to beta"} {
		wg.Add(1)
		go func(i int, instruction string) {
			defer wg.Done()
			results[i], errs[i] = p.svc.Edit(context.Background(), userID, doc.ID, instruction)
		}(i, instruction)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("edit %d failed: %v", i, err)
		}
	}
	// Each caller receives the result of its own merge.
	if results[0].Reply != "renamed B to alpha" || results[1].Reply != "renamed B to beta" {
		t.Fatalf("replies crossed: %q / %q", results[0].Reply, results[1].Reply)
	}
	labelOf := func(payload datatypes.JSON) string {
		var g viz.GraphPayload
		if err := json.Unmarshal(payload, &g); err != nil {
			t.Fatal(err)
		}
		return g.Nodes[1].Label
	}
	if got := labelOf(results[0].Document.Payload); got != "alpha" {
		t.Fatalf("first caller's merge dropped: node label %q", got)
	}
	if got := labelOf(results[1].Document.Payload); got != "beta" {
		t.Fatalf("second caller's merge dropped: node label %q", got)
	}
	// The store holds whichever write landed last.
	if got := labelOf(p.repo.stored(doc.ID).Payload); got != "alpha" && got != "beta" {
		t.Fatalf("stored payload is neither writer's: node label %q", got)
	}
}

func TestDeriveTitleClipsOnRuneBoundary(t *testing.T) {
	title := deriveTitle(strings.Repeat("可視化", 30))
	if !utf8.ValidString(title) {
		t.Fatalf("clipped title is invalid UTF-8: %q", title)
	}
	if !strings.HasSuffix(title, "…") {
		t.Fatalf("long title not clipped: %q", title)
	}
	if n := utf8.RuneCountInString(title); n > 61 {
		t.Fatalf("title clipped too long: %d runes", n)
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	p := newPipeline(t, newFakeAI())
	userID := uuid.New()
	doc := seedGraphDoc(t, p, userID)

	if err := p.svc.Delete(context.Background(), userID, doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := p.svc.Get(context.Background(), userID, doc.ID)
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Fatalf("expected not_found after delete, got %v", err)
	}
}
