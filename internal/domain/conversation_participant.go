package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ConversationParticipant is a user's membership record in one conversation.
// Leaving is soft: IsActive flips to false and LeftAt is stamped, but the row
// (and the user's message history) stays. UnreadCount is maintained by the
// store with atomic column updates, never read-modify-write in Go.
type ConversationParticipant struct {
	ConversationID uuid.UUID    `gorm:"column:conversation_id;primaryKey;type:char(36)" json:"conversation_id"`
	UserID         uuid.UUID    `gorm:"column:user_id;primaryKey;type:char(36)" json:"user_id"`
	IsActive       bool         `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
	UnreadCount    int          `gorm:"column:unread_count;not null;default:0" json:"unread_count"`
	LastReadAt     sql.NullTime `gorm:"column:last_read_at" json:"last_read_at"`
	JoinedAt       time.Time    `gorm:"column:joined_at;not null" json:"joined_at"`
	LeftAt         sql.NullTime `gorm:"column:left_at" json:"left_at"`

	// Per-user display preferences. Cosmetic only, never fanned out.
	IsPinned   bool `gorm:"column:is_pinned;not null;default:false" json:"is_pinned"`
	IsArchived bool `gorm:"column:is_archived;not null;default:false" json:"is_archived"`
	IsFavorite bool `gorm:"column:is_favorite;not null;default:false" json:"is_favorite"`
	IsMuted    bool `gorm:"column:is_muted;not null;default:false" json:"is_muted"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID" json:"-"`
	User         User         `gorm:"foreignKey:UserID;references:ID" json:"user,omitempty"`
}
