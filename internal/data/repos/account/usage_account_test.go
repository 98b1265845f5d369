package account

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vizboard/vizboard-backend/internal/data/repos/testutil"
	types "github.com/vizboard/vizboard-backend/internal/domain/account"
)

func seedAccount(userID uuid.UUID) *types.UsageAccount {
	return &types.UsageAccount{
		UserID:      userID,
		Tier:        types.TierFree,
		TokensLimit: 50_000,
		ResetDate:   types.NextResetDate(time.Now().UTC()),
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewUsageAccountRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	userID := uuid.New()

	first, err := repo.GetOrCreate(ctx, tx, seedAccount(userID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := repo.GetOrCreate(ctx, tx, seedAccount(userID))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same account, got %s and %s", first.ID, second.ID)
	}
}

func TestIncrementUsageIsAtomicExpression(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewUsageAccountRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	userID := uuid.New()

	if _, err := repo.GetOrCreate(ctx, tx, seedAccount(userID)); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, cost := range []int64{100, 200, 50} {
		if err := repo.IncrementUsage(ctx, tx, userID, cost); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	acct, err := repo.GetByUserID(ctx, tx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.TokensUsed != 350 {
		t.Fatalf("expected 350 used, got %d", acct.TokensUsed)
	}
}

func TestIncrementUsageRejectsMissingAccount(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewUsageAccountRepo(tx, testutil.Logger(t))

	if err := repo.IncrementUsage(context.Background(), tx, uuid.New(), 10); err == nil {
		t.Fatal("expected error for missing account")
	}
}

func TestIncrementUsageRejectsNegativeCost(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewUsageAccountRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	userID := uuid.New()

	if _, err := repo.GetOrCreate(ctx, tx, seedAccount(userID)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.IncrementUsage(ctx, tx, userID, -5); err == nil {
		t.Fatal("expected error for negative cost")
	}
}

func TestResetUsageZeroesAndAdvances(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewUsageAccountRepo(tx, testutil.Logger(t))
	ctx := context.Background()
	userID := uuid.New()

	acct, err := repo.GetOrCreate(ctx, tx, seedAccount(userID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.IncrementUsage(ctx, tx, userID, 500); err != nil {
		t.Fatalf("increment: %v", err)
	}

	next := types.NextResetDate(time.Now().UTC().AddDate(0, 1, 0))
	if err := repo.ResetUsage(ctx, tx, acct.ID, next); err != nil {
		t.Fatalf("reset: %v", err)
	}

	got, err := repo.GetByUserID(ctx, tx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TokensUsed != 0 {
		t.Fatalf("usage not zeroed: %d", got.TokensUsed)
	}
	if !got.ResetDate.Equal(next) {
		t.Fatalf("reset date not advanced: %v (want %v)", got.ResetDate, next)
	}
}
