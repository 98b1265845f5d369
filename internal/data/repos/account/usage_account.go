package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	types "github.com/vizboard/vizboard-backend/internal/domain/account"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

// UsageAccountRepo persists the per-user token ledger. Only the admission
// controller talks to it; nothing else reads or writes account state.
type UsageAccountRepo interface {
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UsageAccount, error)
	GetOrCreate(ctx context.Context, tx *gorm.DB, row *types.UsageAccount) (*types.UsageAccount, error)
	ResetUsage(ctx context.Context, tx *gorm.DB, id uuid.UUID, resetDate time.Time) error
	// IncrementUsage adds cost atomically (tokens_used = tokens_used + cost),
	// safe under concurrent charges.
	IncrementUsage(ctx context.Context, tx *gorm.DB, userID uuid.UUID, cost int64) error
}

type usageAccountRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUsageAccountRepo(db *gorm.DB, log *logger.Logger) UsageAccountRepo {
	return &usageAccountRepo{db: db, log: log.With("repo", "UsageAccountRepo")}
}

func (r *usageAccountRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *usageAccountRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UsageAccount, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	var out types.UsageAccount
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrCreate inserts the lazily-created account. Two concurrent first
// checks can race on the user_id unique index; the loser re-reads the
// winner's row instead of failing the request.
func (r *usageAccountRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, row *types.UsageAccount) (*types.UsageAccount, error) {
	if row == nil || row.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	existing, err := r.GetByUserID(ctx, tx, row.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if err := r.conn(tx).WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return r.GetByUserID(ctx, tx, row.UserID)
		}
		return nil, err
	}
	return row, nil
}

func (r *usageAccountRepo) ResetUsage(ctx context.Context, tx *gorm.DB, id uuid.UUID, resetDate time.Time) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.UsageAccount{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tokens_used": 0,
			"reset_date":  resetDate,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *usageAccountRepo) IncrementUsage(ctx context.Context, tx *gorm.DB, userID uuid.UUID, cost int64) error {
	if userID == uuid.Nil {
		return fmt.Errorf("missing user_id")
	}
	if cost < 0 {
		return fmt.Errorf("negative cost")
	}
	res := r.conn(tx).WithContext(ctx).
		Model(&types.UsageAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"tokens_used": gorm.Expr("tokens_used + ?", cost),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no usage account for user %s", userID)
	}
	return nil
}

// 23505 is postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
