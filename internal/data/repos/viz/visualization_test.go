package viz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/vizboard/vizboard-backend/internal/data/repos/testutil"
	types "github.com/vizboard/vizboard-backend/internal/domain/viz"
)

func seedRow(userID uuid.UUID) *types.Visualization {
	return &types.Visualization{
		UserID:       userID,
		Kind:         types.KindNetworkGraph,
		Title:        "architecture sketch",
		Payload:      datatypes.JSON(`{"nodes":[],"edges":[]}`),
		Conversation: datatypes.JSON(`[]`),
		SourceText:   "the service talks to the cache",
	}
}

func TestCreateAndGetScopedToOwner(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewVisualizationRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	owner := uuid.New()

	created, err := repo.Create(ctx, tx, seedRow(owner))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("missing id")
	}

	got, err := repo.GetByIDForUser(ctx, tx, created.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "architecture sketch" {
		t.Fatalf("unexpected row: %+v", got)
	}

	foreign, err := repo.GetByIDForUser(ctx, tx, created.ID, uuid.New())
	if err != nil {
		t.Fatalf("get foreign: %v", err)
	}
	if foreign != nil {
		t.Fatal("owner scoping violated")
	}
}

func TestListByUserOrdersByRecency(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewVisualizationRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	owner := uuid.New()

	first, err := repo.Create(ctx, tx, seedRow(owner))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := repo.Create(ctx, tx, seedRow(owner))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.UpdateFieldsForUser(ctx, tx, first.ID, owner, map[string]interface{}{"title": "bumped"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, err := repo.ListByUser(ctx, tx, owner, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != first.ID {
		t.Fatalf("expected recently-updated row first, got %s (want %s, other %s)", rows[0].ID, first.ID, second.ID)
	}
}

func TestUpdateFieldsForUserReportsMatch(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewVisualizationRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	owner := uuid.New()

	created, err := repo.Create(ctx, tx, seedRow(owner))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	matched, err := repo.UpdateFieldsForUser(ctx, tx, created.ID, uuid.New(), map[string]interface{}{"title": "stolen"})
	if err != nil {
		t.Fatalf("update foreign: %v", err)
	}
	if matched {
		t.Fatal("foreign owner matched a row")
	}

	matched, err = repo.UpdateFieldsForUser(ctx, tx, created.ID, owner, map[string]interface{}{
		"payload": datatypes.JSON(`{"nodes":[{"id":"n1","label":"A"}],"edges":[]}`),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !matched {
		t.Fatal("owner update did not match")
	}
}

func TestSoftDeleteHidesRow(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewVisualizationRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	owner := uuid.New()

	created, err := repo.Create(ctx, tx, seedRow(owner))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	matched, err := repo.SoftDeleteForUser(ctx, tx, created.ID, owner)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !matched {
		t.Fatal("delete did not match")
	}

	got, err := repo.GetByIDForUser(ctx, tx, created.ID, owner)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Fatal("soft-deleted row still visible")
	}
}
