package domain

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
)

func (ct ConversationType) IsValid() bool {
	switch ct {
	case ConversationTypePrivate, ConversationTypeGroup:
		return true
	}
	return false
}

// Conversation is a durable message thread. Private conversations carry a
// PairKey (ordered user-id pair) so the database enforces at most one thread
// per pair; group conversations are keyed one-to-one to an external group.
type Conversation struct {
	ID            uuid.UUID        `gorm:"primaryKey;type:char(36)" json:"id"`
	CreatorID     uuid.UUID        `gorm:"column:creator_id;not null;type:char(36)" json:"creator_id"`
	Type          ConversationType `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Name          sql.NullString   `gorm:"column:name" json:"name"`
	GroupID       sql.NullString   `gorm:"column:group_id;uniqueIndex" json:"group_id"`
	PairKey       sql.NullString   `gorm:"column:pair_key;uniqueIndex" json:"-"`
	LastMessageAt sql.NullTime     `gorm:"column:last_message_at;index" json:"last_message_at"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	DeletedAt     gorm.DeletedAt   `gorm:"index" json:"-"`

	Creator      User                      `gorm:"foreignKey:CreatorID;references:ID" json:"-"`
	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
	Messages     []Message                 `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid conversation type: %s", c.Type)
	}
	if c.Type == ConversationTypeGroup && !c.GroupID.Valid {
		return fmt.Errorf("group conversation requires a group reference")
	}
	return nil
}

// PairKeyFor builds the canonical key for a two-party conversation. The two
// user ids are ordered lexicographically so (a,b) and (b,a) collide.
func PairKeyFor(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if strings.Compare(x, y) > 0 {
		x, y = y, x
	}
	return x + ":" + y
}
