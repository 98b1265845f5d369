package account

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func ValidTier(t Tier) bool {
	return t == TierFree || t == TierPro || t == TierEnterprise
}

// UsageAccount is the per-user token ledger. Created lazily on the first
// admission check; reset is evaluated lazily at check time (no scheduler).
type UsageAccount struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	Tier        Tier      `gorm:"column:tier;not null;default:'free'" json:"tier"`
	TokensUsed  int64     `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	TokensLimit int64     `gorm:"column:tokens_limit;not null;default:0" json:"tokens_limit"`
	ResetDate   time.Time `gorm:"column:reset_date;not null" json:"reset_date"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UsageAccount) TableName() string { return "usage_account" }

// NextResetDate returns the first day of the month after now, UTC midnight.
func NextResetDate(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
