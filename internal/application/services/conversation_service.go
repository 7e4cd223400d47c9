package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campuslink-io/campuslink-chat/internal/domain"
)

// ConversationService is the membership half of the persistent store:
// conversation create-or-get, participant lifecycle, and the
// conversation-level read marker.
type ConversationService interface {
	CreatePrivateConversation(creatorID, peerID uuid.UUID) (*domain.Conversation, error)
	CreateGroupConversation(creatorID uuid.UUID, groupID string, name string) (*domain.Conversation, error)
	GetConversation(conversationID uuid.UUID) (*domain.Conversation, error)
	ListConversations(userID uuid.UUID, limit, offset int) ([]domain.ConversationParticipant, error)
	AddParticipant(conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error)
	RemoveParticipant(conversationID, userID uuid.UUID) error
	IsActiveParticipant(conversationID, userID uuid.UUID) (bool, error)
	ActiveParticipants(conversationID uuid.UUID) ([]domain.ConversationParticipant, error)
	MarkConversationRead(conversationID, userID uuid.UUID) error
	UpdateParticipantPrefs(conversationID, userID uuid.UUID, prefs ParticipantPrefs) error
	GetUser(userID uuid.UUID) (*domain.User, error)
}

type conversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) ConversationService {
	return &conversationService{db: db}
}

// CreatePrivateConversation is an idempotent create-or-get keyed by the
// ordered user-id pair. The pair_key unique index is the arbiter under
// concurrency: if two peers race past the lookup, one insert loses and the
// loser re-reads the winner's row.
func (s *conversationService) CreatePrivateConversation(creatorID, peerID uuid.UUID) (*domain.Conversation, error) {
	if creatorID == peerID {
		return nil, domain.ErrSelfConversation
	}
	pairKey := domain.PairKeyFor(creatorID, peerID)

	var existing domain.Conversation
	err := s.db.Where("pair_key = ?", pairKey).First(&existing).Error
	if err == nil {
		if err := s.reactivatePair(existing.ID, creatorID, peerID); err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up private conversation: %w", err)
	}

	conv := domain.Conversation{
		ID:        uuid.New(),
		CreatorID: creatorID,
		Type:      domain.ConversationTypePrivate,
		PairKey:   sql.NullString{String: pairKey, Valid: true},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		for _, uid := range []uuid.UUID{creatorID, peerID} {
			p := domain.ConversationParticipant{
				ConversationID: conv.ID,
				UserID:         uid,
				IsActive:       true,
				JoinedAt:       time.Now(),
			}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Lost the race on pair_key: the peer created it first.
		var winner domain.Conversation
		if ferr := s.db.Where("pair_key = ?", pairKey).First(&winner).Error; ferr == nil {
			return &winner, nil
		}
		return nil, fmt.Errorf("failed to create private conversation: %w", err)
	}
	return &conv, nil
}

// CreateGroupConversation is create-or-get keyed by the external group id;
// exactly one conversation may exist per group.
func (s *conversationService) CreateGroupConversation(creatorID uuid.UUID, groupID string, name string) (*domain.Conversation, error) {
	var existing domain.Conversation
	err := s.db.Where("group_id = ?", groupID).First(&existing).Error
	if err == nil {
		if _, err := s.AddParticipant(existing.ID, creatorID); err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up group conversation: %w", err)
	}

	conv := domain.Conversation{
		ID:        uuid.New(),
		CreatorID: creatorID,
		Type:      domain.ConversationTypeGroup,
		GroupID:   sql.NullString{String: groupID, Valid: true},
		Name:      sql.NullString{String: name, Valid: name != ""},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		p := domain.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         creatorID,
			IsActive:       true,
			JoinedAt:       time.Now(),
		}
		return tx.Create(&p).Error
	})
	if err != nil {
		var winner domain.Conversation
		if ferr := s.db.Where("group_id = ?", groupID).First(&winner).Error; ferr == nil {
			if _, aerr := s.AddParticipant(winner.ID, creatorID); aerr != nil {
				return nil, aerr
			}
			return &winner, nil
		}
		return nil, fmt.Errorf("failed to create group conversation: %w", err)
	}
	return &conv, nil
}

func (s *conversationService) GetConversation(conversationID uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns the caller's active memberships with their
// conversations preloaded, most recently active thread first.
func (s *conversationService) ListConversations(userID uuid.UUID, limit, offset int) ([]domain.ConversationParticipant, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []domain.ConversationParticipant
	err := s.db.
		Preload("Conversation").
		Joins("JOIN conversations ON conversations.id = conversation_participants.conversation_id AND conversations.deleted_at IS NULL").
		Where("conversation_participants.user_id = ? AND conversation_participants.is_active = ?", userID, true).
		Order("conversations.last_message_at DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return rows, nil
}

// AddParticipant is idempotent: an active row is returned as-is, an inactive
// row is reactivated (left_at cleared) instead of duplicated.
func (s *conversationService) AddParticipant(conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error) {
	if _, err := s.GetConversation(conversationID); err != nil {
		return nil, err
	}

	var p domain.ConversationParticipant
	err := s.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&p).Error
	if err == nil {
		if p.IsActive {
			return &p, nil
		}
		updates := map[string]interface{}{
			"is_active": true,
			"left_at":   nil,
			"joined_at": time.Now(),
		}
		if err := s.db.Model(&p).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to reactivate participant: %w", err)
		}
		p.IsActive = true
		p.LeftAt = sql.NullTime{}
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up participant: %w", err)
	}

	p = domain.ConversationParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		IsActive:       true,
		JoinedAt:       time.Now(),
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"is_active": true, "left_at": nil}),
	}).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	return &p, nil
}

// RemoveParticipant marks the membership inactive and stamps the leave time.
// Messages and reactions the user authored stay untouched.
func (s *conversationService) RemoveParticipant(conversationID, userID uuid.UUID) error {
	res := s.db.Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"left_at":   time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to remove participant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotAParticipant
	}
	return nil
}

func (s *conversationService) IsActiveParticipant(conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return count > 0, nil
}

func (s *conversationService) ActiveParticipants(conversationID uuid.UUID) ([]domain.ConversationParticipant, error) {
	var rows []domain.ConversationParticipant
	err := s.db.Preload("User").
		Where("conversation_id = ? AND is_active = ?", conversationID, true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return rows, nil
}

// MarkConversationRead is the conversation-level read: the unread counter is
// reset with a single atomic update, last_read_at is stamped, and a read-by
// row is backfilled for every message from others that lacks one. The
// message-level read in ChatService deliberately does not do this.
func (s *conversationService) MarkConversationRead(conversationID, userID uuid.UUID) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
			Updates(map[string]interface{}{
				"unread_count": 0,
				"last_read_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to reset unread count: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotAParticipant
		}

		var unread []domain.Message
		if err := tx.
			Joins("LEFT JOIN message_reads ON message_reads.message_id = messages.id AND message_reads.reader_id = ?", userID).
			Where("messages.conversation_id = ? AND messages.sender_id <> ? AND message_reads.message_id IS NULL", conversationID, userID).
			Find(&unread).Error; err != nil {
			return fmt.Errorf("failed to find unread messages: %w", err)
		}
		for _, m := range unread {
			read := domain.MessageRead{MessageID: m.ID, ReaderID: userID, ReadAt: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&read).Error; err != nil {
				return fmt.Errorf("failed to backfill read row: %w", err)
			}
		}
		return nil
	})
}

// ParticipantPrefs carries the cosmetic per-user display switches.
type ParticipantPrefs struct {
	IsPinned   *bool `json:"is_pinned,omitempty"`
	IsArchived *bool `json:"is_archived,omitempty"`
	IsFavorite *bool `json:"is_favorite,omitempty"`
	IsMuted    *bool `json:"is_muted,omitempty"`
}

func (s *conversationService) UpdateParticipantPrefs(conversationID, userID uuid.UUID, prefs ParticipantPrefs) error {
	updates := map[string]interface{}{}
	if prefs.IsPinned != nil {
		updates["is_pinned"] = *prefs.IsPinned
	}
	if prefs.IsArchived != nil {
		updates["is_archived"] = *prefs.IsArchived
	}
	if prefs.IsFavorite != nil {
		updates["is_favorite"] = *prefs.IsFavorite
	}
	if prefs.IsMuted != nil {
		updates["is_muted"] = *prefs.IsMuted
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update participant prefs: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotAParticipant
	}
	return nil
}

func (s *conversationService) GetUser(userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s not found: %w", userID, err)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// reactivatePair re-adds both sides of an existing private conversation; a
// peer who soft-left comes back when either side reopens the thread.
func (s *conversationService) reactivatePair(conversationID uuid.UUID, a, b uuid.UUID) error {
	for _, uid := range []uuid.UUID{a, b} {
		if _, err := s.AddParticipant(conversationID, uid); err != nil {
			return err
		}
	}
	return nil
}
