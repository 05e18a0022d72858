package models

import (
	"time"

	"github.com/google/uuid"
)

// GeneratedPrompt is a prompt artifact derived from a conversation. Artifacts
// are owned by the conversation and removed with it on cascade delete.
type GeneratedPrompt struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index;not null" json:"conversation_id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Title          string    `gorm:"size:255" json:"title"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (GeneratedPrompt) TableName() string {
	return "generated_prompts"
}
