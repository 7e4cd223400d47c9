package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageReaction is unique per (message, user, emoji); a user may hold
// several distinct emoji on one message but never the same emoji twice.
type MessageReaction struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"column:message_id;not null;type:char(36);uniqueIndex:idx_reaction_triple,priority:1" json:"message_id"`
	UserID    uuid.UUID `gorm:"column:user_id;not null;type:char(36);uniqueIndex:idx_reaction_triple,priority:2" json:"user_id"`
	Emoji     string    `gorm:"column:emoji;type:varchar(32);not null;uniqueIndex:idx_reaction_triple,priority:3" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`

	Message Message `gorm:"foreignKey:MessageID;references:ID" json:"-"`
	User    User    `gorm:"foreignKey:UserID;references:ID" json:"-"`
}
