package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kha1dx/clarityai/internal/models"
	"github.com/kha1dx/clarityai/internal/services"
)

type ConversationHandler struct {
	svc   *services.ConversationService
	usage *services.UsageService
	hub   *Hub
}

func NewConversationHandler(svc *services.ConversationService, usage *services.UsageService, hub *Hub) *ConversationHandler {
	return &ConversationHandler{svc: svc, usage: usage, hub: hub}
}

func (h *ConversationHandler) publish(evt Event) {
	if h.hub != nil {
		h.hub.Broadcast(evt)
	}
}

// ─── Conversations ──────────────────────────────────────────────────────────

// ListConversations returns the user's conversations, most recent first.
func (h *ConversationHandler) ListConversations(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == "" {
		return badRequest(c, "userId is required")
	}

	convs, err := h.svc.List(userID)
	if err != nil {
		return serviceError(c, err)
	}
	return ok(c, convs)
}

func (h *ConversationHandler) CreateConversation(c *fiber.Ctx) error {
	var req struct {
		Title    string `json:"title"`
		UserID   string `json:"userId"`
		Category string `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	userID := currentUserID(c)
	if userID == "" {
		userID = req.UserID
	}
	if userID == "" {
		return badRequest(c, "userId is required")
	}

	conv, err := h.svc.Create(userID, req.Title, req.Category)
	if err != nil {
		return serviceError(c, err)
	}

	h.publish(Event{Type: "conversation.created", UserID: userID, ConversationID: conv.ID.String(), Data: conv})
	return created(c, conv)
}

// GetConversation returns the conversation together with its messages.
func (h *ConversationHandler) GetConversation(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	conv, err := h.svc.Get(id, userID)
	if err != nil {
		return serviceError(c, err)
	}
	msgs, err := h.svc.Messages(id)
	if err != nil {
		return serviceError(c, err)
	}

	return ok(c, fiber.Map{"conversation": conv, "messages": msgs})
}

// UpdateConversation applies partial updates: title, category, flags.
func (h *ConversationHandler) UpdateConversation(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	var req struct {
		Title      *string `json:"title"`
		Category   *string `json:"category"`
		IsStarred  *bool   `json:"is_starred"`
		IsArchived *bool   `json:"is_archived"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	conv, err := h.svc.Get(id, userID)
	if err != nil {
		return serviceError(c, err)
	}

	if req.Title != nil {
		if conv, err = h.svc.Rename(id, userID, *req.Title); err != nil {
			return serviceError(c, err)
		}
	}
	if req.Category != nil {
		if conv, err = h.svc.SetCategory(id, userID, *req.Category); err != nil {
			return serviceError(c, err)
		}
	}
	if req.IsStarred != nil {
		if conv, err = h.svc.SetStarred(id, userID, *req.IsStarred); err != nil {
			return serviceError(c, err)
		}
	}
	if req.IsArchived != nil {
		if conv, err = h.svc.SetArchived(id, userID, *req.IsArchived); err != nil {
			return serviceError(c, err)
		}
	}

	h.publish(Event{Type: "conversation.updated", UserID: userID, ConversationID: conv.ID.String(), Data: conv})
	return ok(c, conv)
}

func (h *ConversationHandler) DeleteConversation(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	if err := h.svc.Delete(id, userID); err != nil {
		return serviceError(c, err)
	}

	h.publish(Event{Type: "conversation.deleted", UserID: userID, ConversationID: id.String()})
	return ok(c, fiber.Map{"deleted": true})
}

// ─── Flags ──────────────────────────────────────────────────────────────────

func (h *ConversationHandler) StarConversation(c *fiber.Ctx) error {
	return h.setFlag(c, "isStarred")
}

func (h *ConversationHandler) ArchiveConversation(c *fiber.Ctx) error {
	return h.setFlag(c, "isArchived")
}

func (h *ConversationHandler) setFlag(c *fiber.Ctx, field string) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	var req struct {
		IsStarred  *bool `json:"isStarred"`
		IsArchived *bool `json:"isArchived"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, field+" must be a boolean")
	}

	var value *bool
	if field == "isStarred" {
		value = req.IsStarred
	} else {
		value = req.IsArchived
	}
	if value == nil {
		return badRequest(c, field+" must be a boolean")
	}

	var conv interface{}
	var err error
	if field == "isStarred" {
		conv, err = h.svc.SetStarred(id, userID, *value)
	} else {
		conv, err = h.svc.SetArchived(id, userID, *value)
	}
	if err != nil {
		return serviceError(c, err)
	}

	h.publish(Event{Type: "conversation.updated", UserID: userID, ConversationID: id.String(), Data: conv})
	return ok(c, conv)
}

// ─── Tags ───────────────────────────────────────────────────────────────────

// SetTags replaces the whole tag set.
func (h *ConversationHandler) SetTags(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	var req struct {
		Tags []string `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil || req.Tags == nil {
		return badRequest(c, "tags must be an array of strings")
	}

	conv, err := h.svc.SetTags(id, userID, req.Tags)
	if err != nil {
		return serviceError(c, err)
	}

	h.publish(Event{Type: "conversation.updated", UserID: userID, ConversationID: id.String(), Data: conv})
	return ok(c, conv)
}

// AddTags merges new tags into the existing set; the cap applies to the
// merged result.
func (h *ConversationHandler) AddTags(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	var req struct {
		Tags []string `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil || req.Tags == nil {
		return badRequest(c, "tags must be an array of strings")
	}

	conv, err := h.svc.AddTags(id, userID, req.Tags)
	if err != nil {
		return serviceError(c, err)
	}

	h.publish(Event{Type: "conversation.updated", UserID: userID, ConversationID: id.String(), Data: conv})
	return ok(c, conv)
}

// ─── Messages ───────────────────────────────────────────────────────────────

// AddMessage appends a message to the conversation. 404 is surfaced
// distinctly when the parent is missing so clients can recreate it.
func (h *ConversationHandler) AddMessage(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid conversation ID")
	}

	var req struct {
		Role       string  `json:"role"`
		Content    string  `json:"content"`
		TokensUsed int     `json:"tokensUsed"`
		Cost       float64 `json:"cost"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	msg, err := h.svc.AppendMessage(id, req.Role, req.Content, req.TokensUsed, req.Cost)
	if err != nil {
		return serviceError(c, err)
	}

	// Appending a user message can settle the title of a still-untitled
	// conversation, same as the chat flow.
	userID := currentUserID(c)
	if req.Role == models.RoleUser && userID != "" {
		if _, err := h.svc.AutoTitle(id, userID); err != nil {
			slog.Warn("auto-title failed", "conversation_id", id, "error", err)
		}
	}

	h.publish(Event{Type: "message.created", UserID: userID, ConversationID: id.String(), Data: msg})
	return created(c, msg)
}

// UpdateMessage supports the two legal message mutations: content edit and
// star toggle.
func (h *ConversationHandler) UpdateMessage(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	messageID, err := uuid.Parse(c.Params("messageId"))
	if err != nil {
		return badRequest(c, "Invalid message ID")
	}

	var req struct {
		Content   *string `json:"content"`
		IsStarred *bool   `json:"isStarred"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Content == nil && req.IsStarred == nil {
		return badRequest(c, "content or isStarred is required")
	}

	var msg interface{}
	if req.Content != nil {
		if msg, err = h.svc.EditMessageContent(id, messageID, userID, *req.Content); err != nil {
			return serviceError(c, err)
		}
	}
	if req.IsStarred != nil {
		if msg, err = h.svc.SetMessageStarred(id, messageID, userID, *req.IsStarred); err != nil {
			return serviceError(c, err)
		}
	}

	return ok(c, msg)
}

// ─── Analytics ──────────────────────────────────────────────────────────────

func (h *ConversationHandler) ConversationAnalytics(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	usage, err := h.usage.PerConversation(id, userID)
	if err != nil {
		return serviceError(c, err)
	}
	return ok(c, usage)
}

func (h *ConversationHandler) UserStats(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == "" {
		return badRequest(c, "userId is required")
	}

	usage, err := h.usage.PerUser(userID)
	if err != nil {
		return serviceError(c, err)
	}
	return ok(c, usage)
}

// ─── Prompt artifacts ───────────────────────────────────────────────────────

func (h *ConversationHandler) SavePrompt(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	prompt, err := h.svc.SavePrompt(id, userID, req.Title, req.Content)
	if err != nil {
		return serviceError(c, err)
	}
	return created(c, prompt)
}

func (h *ConversationHandler) ListPrompts(c *fiber.Ctx) error {
	id, userID, valid := h.target(c)
	if !valid {
		return nil
	}

	prompts, err := h.svc.ListPrompts(id, userID)
	if err != nil {
		return serviceError(c, err)
	}
	return ok(c, prompts)
}

func (h *ConversationHandler) DeletePrompt(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == "" {
		return badRequest(c, "userId is required")
	}
	promptID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid prompt ID")
	}

	if err := h.svc.DeletePrompt(promptID, userID); err != nil {
		return serviceError(c, err)
	}
	return ok(c, fiber.Map{"deleted": true})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// target parses the conversation id and resolves the acting user. When either
// is missing it writes the 400 envelope itself and reports ok=false.
func (h *ConversationHandler) target(c *fiber.Ctx) (uuid.UUID, string, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		badRequest(c, "Invalid conversation ID")
		return uuid.Nil, "", false
	}
	userID := currentUserID(c)
	if userID == "" {
		badRequest(c, "userId is required")
		return uuid.Nil, "", false
	}
	return id, userID, true
}
