package domain

import (
	"time"

	"github.com/google/uuid"
)

// User holds the chat-facing slice of the platform's user record. Profile
// management lives in the main platform service; this table mirrors what the
// engine needs for sender summaries and membership rows.
type User struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(320);unique;not null" json:"-"`
	Username     string    `gorm:"type:varchar(255);unique;not null" json:"username"`
	FirstName    string    `gorm:"type:varchar(255)" json:"first_name"`
	LastName     string    `gorm:"type:varchar(255)" json:"last_name"`
	UniversityID string    `gorm:"type:varchar(64)" json:"university_id"`
	AvatarURL    string    `gorm:"type:varchar(512)" json:"avatar_url"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"-"`
}

// Summary is the sender shape embedded in wire frames.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
	}
}

type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}
