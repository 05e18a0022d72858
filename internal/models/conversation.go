package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	// DefaultTitle is the placeholder assigned at creation until the user
	// renames the conversation or auto-titling kicks in.
	DefaultTitle = "New Conversation"

	MaxTitleLength = 255
	MaxTags        = 10
	MaxTagLength   = 50
)

type Conversation struct {
	ID            uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string                      `gorm:"index;not null" json:"user_id"`
	Title         string                      `gorm:"size:255;not null" json:"title"`
	Category      string                      `gorm:"size:100" json:"category,omitempty"`
	IsStarred     bool                        `gorm:"default:false" json:"is_starred"`
	IsArchived    bool                        `gorm:"default:false" json:"is_archived"`
	Tags          datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"tags"`
	Metadata      datatypes.JSONMap           `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	LastMessageAt *time.Time                  `json:"last_message_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}
