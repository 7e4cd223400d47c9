package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campuslink-io/campuslink-chat/internal/domain"
)

// ChatService is the message half of the persistent store. SendMessage is the
// one operation with a hard atomicity requirement: the message insert, the
// last_message_at bump, and the unread increments commit as one unit.
type ChatService interface {
	SendMessage(senderID, conversationID uuid.UUID, content string, messageType domain.MessageType, mediaURL string, metadata []byte, replyToMessageID *uuid.UUID) (*domain.Message, error)
	GetMessagesByConversation(conversationID uuid.UUID, limit, offset int) ([]domain.Message, error)
	GetMessage(messageID uuid.UUID) (*domain.Message, error)
	MarkMessageAsRead(messageID, readerID uuid.UUID) error
	AddReaction(messageID, userID uuid.UUID, emoji string) (*domain.MessageReaction, error)
	RemoveReaction(messageID, userID uuid.UUID, emoji string) error
}

type chatService struct {
	db *gorm.DB
}

func NewChatService(db *gorm.DB) ChatService {
	return &chatService{db: db}
}

func (s *chatService) SendMessage(senderID, conversationID uuid.UUID, content string, messageType domain.MessageType, mediaURL string, metadata []byte, replyToMessageID *uuid.UUID) (*domain.Message, error) {
	if messageType == "" {
		messageType = domain.MessageTypeText
	}

	newMessage := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    messageType,
		CreatedAt:      time.Now(),
	}
	if mediaURL != "" {
		newMessage.MediaURL.String = mediaURL
		newMessage.MediaURL.Valid = true
	}
	if metadata != nil {
		newMessage.Metadata = metadata
	}
	if replyToMessageID != nil {
		newMessage.ReplyToMessageID.String = replyToMessageID.String()
		newMessage.ReplyToMessageID.Valid = true
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conversation domain.Conversation
		if err := tx.First(&conversation, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrConversationNotFound
			}
			return fmt.Errorf("failed to load conversation: %w", err)
		}

		var membership int64
		if err := tx.Model(&domain.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, senderID, true).
			Count(&membership).Error; err != nil {
			return fmt.Errorf("failed to check sender membership: %w", err)
		}
		if membership == 0 {
			return domain.ErrNotAParticipant
		}

		if err := tx.Create(&newMessage).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		if err := tx.Model(&domain.Conversation{}).
			Where("id = ?", conversationID).
			Update("last_message_at", newMessage.CreatedAt).Error; err != nil {
			return fmt.Errorf("failed to bump last_message_at: %w", err)
		}

		// Column-level atomic increment. Reading the counter into Go and
		// writing it back would drop concurrent increments.
		if err := tx.Model(&domain.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ? AND is_active = ?", conversationID, senderID, true).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error; err != nil {
			return fmt.Errorf("failed to increment unread counts: %w", err)
		}

		// The sender has trivially seen their own message.
		read := domain.MessageRead{MessageID: newMessage.ID, ReaderID: senderID, ReadAt: newMessage.CreatedAt}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&read).Error; err != nil {
			return fmt.Errorf("failed to record self-read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.Preload("Sender").First(&newMessage, "id = ?", newMessage.ID).Error; err != nil {
		// Sender summary is cosmetic for the wire shape; the message itself
		// committed, so return it rather than failing the send.
		return &newMessage, nil
	}
	return &newMessage, nil
}

func (s *chatService) GetMessagesByConversation(conversationID uuid.UUID, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var messages []domain.Message
	err := s.db.
		Preload("Sender").
		Preload("Reactions").
		Preload("Reads").
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (s *chatService) GetMessage(messageID uuid.UUID) (*domain.Message, error) {
	var message domain.Message
	if err := s.db.First(&message, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return &message, nil
}

// MarkMessageAsRead is the message-level read granularity: it records a
// read-by row for that one message and decrements the reader's unread_count
// by one. It never resets the whole counter; that belongs to the
// conversation-level mark-read. The decrement fires only when the read row
// is new and the message was authored by someone else, so re-reads stay
// idempotent and own messages never move the counter.
func (s *chatService) MarkMessageAsRead(messageID, readerID uuid.UUID) error {
	message, err := s.GetMessage(messageID)
	if err != nil {
		return err
	}

	active, err := s.isActiveParticipant(message.ConversationID, readerID)
	if err != nil {
		return err
	}
	if !active {
		return domain.ErrNotAParticipant
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		read := domain.MessageRead{MessageID: messageID, ReaderID: readerID, ReadAt: time.Now()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&read)
		if res.Error != nil {
			return fmt.Errorf("failed to mark message as read: %w", res.Error)
		}
		if res.RowsAffected == 0 || message.SenderID == readerID {
			return nil
		}
		if err := tx.Model(&domain.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ? AND is_active = ?", message.ConversationID, readerID, true).
			Update("unread_count", gorm.Expr("CASE WHEN unread_count > 0 THEN unread_count - 1 ELSE 0 END")).Error; err != nil {
			return fmt.Errorf("failed to decrement unread count: %w", err)
		}
		return nil
	})
}

// AddReaction is create-or-noop on the (message, user, emoji) triple.
func (s *chatService) AddReaction(messageID, userID uuid.UUID, emoji string) (*domain.MessageReaction, error) {
	message, err := s.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	active, err := s.isActiveParticipant(message.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, domain.ErrNotAParticipant
	}

	reaction := domain.MessageReaction{
		ID:        uuid.New(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reaction).Error; err != nil {
		return nil, fmt.Errorf("failed to add reaction: %w", err)
	}

	// On conflict the insert was a no-op; hand back the existing row.
	var existing domain.MessageReaction
	if err := s.db.
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load reaction: %w", err)
	}
	return &existing, nil
}

// RemoveReaction is delete-or-noop.
func (s *chatService) RemoveReaction(messageID, userID uuid.UUID, emoji string) error {
	if _, err := s.GetMessage(messageID); err != nil {
		return err
	}
	err := s.db.
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&domain.MessageReaction{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

func (s *chatService) isActiveParticipant(conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return count > 0, nil
}
