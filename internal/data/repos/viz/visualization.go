package viz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

// VisualizationRepo is the owner-scoped document store. Every read and write
// carries the owner filter; there is no unscoped accessor.
type VisualizationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Visualization) (*types.Visualization, error)
	GetByIDForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*types.Visualization, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Visualization, error)
	UpdateFieldsForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, updates map[string]interface{}) (bool, error)
	SoftDeleteForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (bool, error)
}

type visualizationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVisualizationRepo(db *gorm.DB, log *logger.Logger) VisualizationRepo {
	return &visualizationRepo{db: db, log: log.With("repo", "VisualizationRepo")}
}

func (r *visualizationRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *visualizationRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Visualization) (*types.Visualization, error) {
	if row == nil {
		return nil, fmt.Errorf("missing row")
	}
	if row.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if err := r.conn(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *visualizationRepo) GetByIDForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*types.Visualization, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return nil, fmt.Errorf("missing id or user_id")
	}
	var out types.Visualization
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *visualizationRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Visualization, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.Visualization
	if err := r.conn(tx).WithContext(ctx).
		Model(&types.Visualization{}).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFieldsForUser applies a patch under the owner filter. Returns false
// when no row matched (missing id or foreign owner) so callers can surface
// not-found without a second query.
func (r *visualizationRepo) UpdateFieldsForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return false, fmt.Errorf("missing id or user_id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	res := r.conn(tx).WithContext(ctx).
		Model(&types.Visualization{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *visualizationRepo) SoftDeleteForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (bool, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return false, fmt.Errorf("missing id or user_id")
	}
	res := r.conn(tx).WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&types.Visualization{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
