package services

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kha1dx/clarityai/internal/models"
)

// ConversationUsage is the per-conversation token/cost rollup. It is always
// recomputed from message rows; nothing here is stored.
type ConversationUsage struct {
	ConversationID    uuid.UUID `json:"conversation_id"`
	TotalTokens       int       `json:"total_tokens"`
	TotalCost         float64   `json:"total_cost"`
	MessageCount      int       `json:"message_count"`
	UserMessages      int       `json:"user_messages"`
	AssistantMessages int       `json:"assistant_messages"`
	AvgTokensPerMsg   float64   `json:"average_tokens_per_message"`
	AvgCostPerMsg     float64   `json:"average_cost_per_message"`
}

// TagCount pairs a tag with how many of the user's conversations carry it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// UserUsage aggregates across all conversations a user owns.
type UserUsage struct {
	UserID                string     `json:"user_id"`
	ConversationCount     int        `json:"conversation_count"`
	StarredConversations  int        `json:"starred_conversations"`
	ArchivedConversations int        `json:"archived_conversations"`
	TotalMessages         int        `json:"total_messages"`
	TotalTokens           int        `json:"total_tokens"`
	TotalCost             float64    `json:"total_cost"`
	TopTags               []TagCount `json:"top_tags"`
}

// UsageService answers analytics queries. All operations are read-only and
// return zeroed structures for empty inputs rather than failing.
type UsageService struct {
	db *gorm.DB
}

func NewUsageService(db *gorm.DB) *UsageService {
	return &UsageService{db: db}
}

// PerConversation scans the conversation's messages and sums usage. Averages
// are 0 for an empty conversation, never NaN.
func (s *UsageService) PerConversation(id uuid.UUID, userID string) (*ConversationUsage, error) {
	var conv models.Conversation
	err := s.db.First(&conv, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dependencyErr("load conversation", err)
	}

	var msgs []models.Message
	if err := s.db.Where("conversation_id = ?", id).Find(&msgs).Error; err != nil {
		return nil, dependencyErr("load messages", err)
	}

	usage := &ConversationUsage{ConversationID: id}
	for _, m := range msgs {
		usage.MessageCount++
		usage.TotalTokens += m.TokensUsed
		usage.TotalCost += m.Cost
		switch m.Role {
		case models.RoleUser:
			usage.UserMessages++
		case models.RoleAssistant:
			usage.AssistantMessages++
		}
	}
	if usage.MessageCount > 0 {
		usage.AvgTokensPerMsg = float64(usage.TotalTokens) / float64(usage.MessageCount)
		usage.AvgCostPerMsg = usage.TotalCost / float64(usage.MessageCount)
	}
	return usage, nil
}

// PerUser rolls up totals, starred/archived counts and tag popularity across
// everything the user owns. Ties in tag popularity keep first-seen order.
func (s *UsageService) PerUser(userID string) (*UserUsage, error) {
	var convs []models.Conversation
	err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&convs).Error
	if err != nil {
		return nil, dependencyErr("load conversations", err)
	}

	usage := &UserUsage{UserID: userID, TopTags: []TagCount{}}

	tagCounts := make(map[string]int)
	var tagOrder []string

	for _, conv := range convs {
		usage.ConversationCount++
		if conv.IsStarred {
			usage.StarredConversations++
		}
		if conv.IsArchived {
			usage.ArchivedConversations++
		}
		for _, tag := range conv.Tags {
			if _, ok := tagCounts[tag]; !ok {
				tagOrder = append(tagOrder, tag)
			}
			tagCounts[tag]++
		}

		var msgs []models.Message
		if err := s.db.Where("conversation_id = ?", conv.ID).Find(&msgs).Error; err != nil {
			return nil, dependencyErr("load messages", err)
		}
		for _, m := range msgs {
			usage.TotalMessages++
			usage.TotalTokens += m.TokensUsed
			usage.TotalCost += m.Cost
		}
	}

	// Stable ranking: count descending, first-seen order on ties. Iterating
	// tagOrder instead of the map keeps the result deterministic.
	for _, tag := range tagOrder {
		usage.TopTags = append(usage.TopTags, TagCount{Tag: tag, Count: tagCounts[tag]})
	}
	sort.SliceStable(usage.TopTags, func(i, j int) bool {
		return usage.TopTags[i].Count > usage.TopTags[j].Count
	})

	return usage, nil
}
