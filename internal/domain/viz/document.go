package viz

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Kind tags which structural schema a visualization payload follows.
type Kind string

const (
	KindNetworkGraph Kind = "network_graph"
	KindMindmap      Kind = "mindmap"
	KindTreeDiagram  Kind = "tree_diagram"
	KindTimeline     Kind = "timeline"
	KindGantt        Kind = "gantt"

	// KindNone is the selector sentinel for "not visualizable"; it is never
	// persisted on a document.
	KindNone Kind = "none"
)

// Kinds lists every persistable kind, in the order shown to the model.
func Kinds() []Kind {
	return []Kind{KindNetworkGraph, KindMindmap, KindTreeDiagram, KindTimeline, KindGantt}
}

func ValidKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// IsHierarchical reports whether k uses the tree payload schema.
func IsHierarchical(k Kind) bool {
	return k == KindMindmap || k == KindTreeDiagram
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationEntry is one turn of the document transcript. The slice on the
// document is append-only; insertion order is replayed to the model as
// context.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Visualization struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Kind  Kind   `gorm:"column:kind;not null;index" json:"kind"`
	Title string `gorm:"column:title;type:text;not null;default:''" json:"title"`

	Payload      datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload"`
	Conversation datatypes.JSON `gorm:"type:jsonb;column:conversation;not null;default:'[]'" json:"conversation"`

	SourceText   string `gorm:"column:source_text;type:text;not null;default:''" json:"source_text"`
	Model        string `gorm:"column:model" json:"model,omitempty"`
	CostEstimate int64  `gorm:"column:cost_estimate;not null;default:0" json:"cost_estimate"`

	ShareToken string `gorm:"column:share_token;not null;default:'';index" json:"share_token,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Visualization) TableName() string { return "visualization" }
