package services

import (
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kha1dx/clarityai/internal/models"
)

// ConversationService owns the server-side conversation lifecycle: creation,
// flag toggles, tagging, message append, auto-titling and cascade delete.
// Every operation is scoped by (id, user) so one user can never mutate
// another's rows.
type ConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

// ─── Validation ─────────────────────────────────────────────────────────────

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validationErr("title", "title is required")
	}
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return "", validationErr("title", "title exceeds %d characters", models.MaxTitleLength)
	}
	return title, nil
}

// normalizeTags deduplicates while preserving first-seen order and validates
// each tag. The count cap is checked by the caller against the final set.
func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			return nil, validationErr("tags", "tags must not be empty")
		}
		if utf8.RuneCountInString(tag) > models.MaxTagLength {
			return nil, validationErr("tags", "tag %q exceeds %d characters", tag, models.MaxTagLength)
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}

// ─── Lookup ─────────────────────────────────────────────────────────────────

func (s *ConversationService) Get(id uuid.UUID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.First(&conv, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dependencyErr("get conversation", err)
	}
	return &conv, nil
}

// List returns the user's conversations, most recently updated first.
func (s *ConversationService) List(userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, dependencyErr("list conversations", err)
	}
	return convs, nil
}

// Messages returns the conversation's messages in stable creation order.
func (s *ConversationService) Messages(conversationID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, dependencyErr("list messages", err)
	}
	return msgs, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func (s *ConversationService) Create(userID, title, category string) (*models.Conversation, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}

	conv := models.Conversation{
		ID:       uuid.New(),
		UserID:   userID,
		Title:    title,
		Category: category,
		Tags:     datatypes.NewJSONSlice([]string{}),
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, dependencyErr("create conversation", err)
	}
	return &conv, nil
}

func (s *ConversationService) Rename(id uuid.UUID, userID, title string) (*models.Conversation, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}
	return s.update(id, userID, map[string]interface{}{"title": title})
}

func (s *ConversationService) SetStarred(id uuid.UUID, userID string, starred bool) (*models.Conversation, error) {
	return s.update(id, userID, map[string]interface{}{"is_starred": starred})
}

func (s *ConversationService) SetArchived(id uuid.UUID, userID string, archived bool) (*models.Conversation, error) {
	return s.update(id, userID, map[string]interface{}{"is_archived": archived})
}

func (s *ConversationService) SetCategory(id uuid.UUID, userID, category string) (*models.Conversation, error) {
	return s.update(id, userID, map[string]interface{}{"category": category})
}

// SetTags replaces the tag set. Input is deduplicated first; the cap applies
// to the resulting set.
func (s *ConversationService) SetTags(id uuid.UUID, userID string, tags []string) (*models.Conversation, error) {
	tags, err := normalizeTags(tags)
	if err != nil {
		return nil, err
	}
	if len(tags) > models.MaxTags {
		return nil, validationErr("tags", "at most %d tags allowed", models.MaxTags)
	}
	return s.update(id, userID, map[string]interface{}{"tags": datatypes.NewJSONSlice(tags)})
}

// AddTags merges newTags into the current set. The cap is evaluated against
// the merged, deduplicated set, so re-adding existing tags never fails.
func (s *ConversationService) AddTags(id uuid.UUID, userID string, newTags []string) (*models.Conversation, error) {
	conv, err := s.Get(id, userID)
	if err != nil {
		return nil, err
	}

	merged := append(append([]string{}, conv.Tags...), newTags...)
	merged, err = normalizeTags(merged)
	if err != nil {
		return nil, err
	}
	if len(merged) > models.MaxTags {
		return nil, validationErr("tags", "merging would exceed %d tags", models.MaxTags)
	}
	return s.update(id, userID, map[string]interface{}{"tags": datatypes.NewJSONSlice(merged)})
}

// update applies fields with a single owner-scoped statement, then reloads.
// RowsAffected == 0 means the row is absent or not owned.
func (s *ConversationService) update(id uuid.UUID, userID string, fields map[string]interface{}) (*models.Conversation, error) {
	res := s.db.Model(&models.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return nil, dependencyErr("update conversation", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(id, userID)
}

// ─── Messages ───────────────────────────────────────────────────────────────

// AppendMessage creates the message and bumps the parent conversation's
// updated/last-message timestamps in one transaction.
func (s *ConversationService) AppendMessage(conversationID uuid.UUID, role, content string, tokensUsed int, cost float64) (*models.Message, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, validationErr("role", "role must be %q or %q", models.RoleUser, models.RoleAssistant)
	}
	if content == "" {
		return nil, validationErr("content", "content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return nil, validationErr("content", "content exceeds %d characters", models.MaxContentLength)
	}
	if tokensUsed < 0 {
		return nil, validationErr("tokensUsed", "tokensUsed must not be negative")
	}
	if cost < 0 {
		return nil, validationErr("cost", "cost must not be negative")
	}

	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokensUsed:     tokensUsed,
		Cost:           cost,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return dependencyErr("load conversation", err)
		}
		if err := tx.Create(&msg).Error; err != nil {
			return dependencyErr("create message", err)
		}
		now := time.Now()
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]interface{}{"updated_at": now, "last_message_at": now}).Error; err != nil {
			return dependencyErr("bump conversation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetMessageStarred toggles the star on a message, enforcing ownership
// through the parent conversation.
func (s *ConversationService) SetMessageStarred(conversationID, messageID uuid.UUID, userID string, starred bool) (*models.Message, error) {
	return s.updateMessage(conversationID, messageID, userID, map[string]interface{}{"is_starred": starred})
}

// EditMessageContent is the only legal content mutation after creation.
func (s *ConversationService) EditMessageContent(conversationID, messageID uuid.UUID, userID, content string) (*models.Message, error) {
	if content == "" {
		return nil, validationErr("content", "content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return nil, validationErr("content", "content exceeds %d characters", models.MaxContentLength)
	}
	return s.updateMessage(conversationID, messageID, userID, map[string]interface{}{"content": content})
}

func (s *ConversationService) updateMessage(conversationID, messageID uuid.UUID, userID string, fields map[string]interface{}) (*models.Message, error) {
	if _, err := s.Get(conversationID, userID); err != nil {
		return nil, err
	}

	res := s.db.Model(&models.Message{}).
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		Updates(fields)
	if res.Error != nil {
		return nil, dependencyErr("update message", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var msg models.Message
	if err := s.db.First(&msg, "id = ?", messageID).Error; err != nil {
		return nil, dependencyErr("reload message", err)
	}
	return &msg, nil
}

// ─── Auto-title ─────────────────────────────────────────────────────────────

const autoTitleLimit = 50

// AutoTitle derives a title from the first user message when the conversation
// still carries the default placeholder. A user-chosen title is never
// overwritten. Returns the resulting title.
func (s *ConversationService) AutoTitle(id uuid.UUID, userID string) (string, error) {
	conv, err := s.Get(id, userID)
	if err != nil {
		return "", err
	}
	if conv.Title != models.DefaultTitle {
		return conv.Title, nil
	}

	var first models.Message
	err = s.db.Where("conversation_id = ? AND role = ?", id, models.RoleUser).
		Order("created_at ASC, id ASC").
		First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conv.Title, nil
	}
	if err != nil {
		return "", dependencyErr("load first message", err)
	}

	title := deriveTitle(first.Content)
	if title == "" || title == conv.Title {
		return conv.Title, nil
	}
	if _, err := s.update(id, userID, map[string]interface{}{"title": title}); err != nil {
		return "", err
	}
	return title, nil
}

func deriveTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= autoTitleLimit {
		return content
	}
	return strings.TrimSpace(string(runes[:autoTitleLimit])) + "..."
}

// ─── Delete ─────────────────────────────────────────────────────────────────

// Delete removes the conversation with its messages and prompt artifacts.
// Children go first because they reference the conversation by foreign key;
// the transaction makes the cascade all-or-nothing, so a failure partway
// leaves no orphans behind.
func (s *ConversationService) Delete(id uuid.UUID, userID string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ? AND user_id = ?", id, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return dependencyErr("load conversation", err)
		}
		if err := tx.Delete(&models.Message{}, "conversation_id = ?", id).Error; err != nil {
			return dependencyErr("delete messages", err)
		}
		if err := tx.Delete(&models.GeneratedPrompt{}, "conversation_id = ?", id).Error; err != nil {
			return dependencyErr("delete prompt artifacts", err)
		}
		if err := tx.Delete(&models.Conversation{}, "id = ?", id).Error; err != nil {
			return dependencyErr("delete conversation", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("conversation delete failed", "conversation_id", id, "error", err)
	}
	return err
}

// ─── Prompt artifacts ───────────────────────────────────────────────────────

func (s *ConversationService) SavePrompt(conversationID uuid.UUID, userID, title, content string) (*models.GeneratedPrompt, error) {
	if content == "" {
		return nil, validationErr("content", "content is required")
	}
	if _, err := s.Get(conversationID, userID); err != nil {
		return nil, err
	}

	prompt := models.GeneratedPrompt{
		ID:             uuid.New(),
		ConversationID: conversationID,
		UserID:         userID,
		Title:          title,
		Content:        content,
	}
	if err := s.db.Create(&prompt).Error; err != nil {
		return nil, dependencyErr("create prompt artifact", err)
	}
	return &prompt, nil
}

func (s *ConversationService) ListPrompts(conversationID uuid.UUID, userID string) ([]models.GeneratedPrompt, error) {
	if _, err := s.Get(conversationID, userID); err != nil {
		return nil, err
	}
	var prompts []models.GeneratedPrompt
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Find(&prompts).Error
	if err != nil {
		return nil, dependencyErr("list prompt artifacts", err)
	}
	return prompts, nil
}

func (s *ConversationService) DeletePrompt(promptID uuid.UUID, userID string) error {
	res := s.db.Delete(&models.GeneratedPrompt{}, "id = ? AND user_id = ?", promptID, userID)
	if res.Error != nil {
		return dependencyErr("delete prompt artifact", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
