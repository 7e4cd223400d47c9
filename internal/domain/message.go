package domain

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

func (mt MessageType) IsValid() bool {
	switch mt {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// Message content is immutable after creation; only the edit and soft-delete
// markers may change. CreatedAt defines delivery and read-state ordering
// within the conversation.
type Message struct {
	ID               uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID   uuid.UUID       `gorm:"column:conversation_id;not null;type:char(36);index:idx_messages_conv_created,priority:1" json:"conversation_id"`
	SenderID         uuid.UUID       `gorm:"column:sender_id;not null;type:char(36)" json:"sender_id"`
	Content          string          `gorm:"column:content" json:"content"`
	MessageType      MessageType     `gorm:"column:message_type;type:varchar(20);not null" json:"message_type"`
	MediaURL         sql.NullString  `gorm:"column:media_url" json:"media_url"`
	Metadata         json.RawMessage `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	ReplyToMessageID sql.NullString  `gorm:"column:reply_to_message_id" json:"reply_to_message_id"`
	CreatedAt        time.Time       `gorm:"index:idx_messages_conv_created,priority:2" json:"created_at"`
	EditedAt         sql.NullTime    `gorm:"column:edited_at" json:"edited_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID" json:"-"`
	Sender       User         `gorm:"foreignKey:SenderID;references:ID" json:"sender,omitempty"`

	Reads     []MessageRead     `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reads,omitempty"`
	Reactions []MessageReaction `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reactions,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if !m.MessageType.IsValid() {
		return ErrInvalidMessageType
	}
	return nil
}

// MessageRead records that one user has seen one message. Append-only per
// (message, reader); ReadAt keeps the first read time.
type MessageRead struct {
	MessageID uuid.UUID `gorm:"column:message_id;primaryKey;type:char(36)" json:"message_id"`
	ReaderID  uuid.UUID `gorm:"column:reader_id;primaryKey;type:char(36)" json:"reader_id"`
	ReadAt    time.Time `gorm:"column:read_at;not null" json:"read_at"`

	Message Message `gorm:"foreignKey:MessageID;references:ID" json:"-"`
	Reader  User    `gorm:"foreignKey:ReaderID;references:ID" json:"-"`
}
