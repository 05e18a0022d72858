package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kha1dx/clarityai/internal/generation"
	"github.com/kha1dx/clarityai/internal/models"
	"github.com/kha1dx/clarityai/internal/services"
)

// ChatHandler drives the send-message flow: persist the user turn, call the
// generation provider with the full history, persist the assistant turn with
// its usage, then auto-title the conversation.
type ChatHandler struct {
	svc      *services.ConversationService
	provider generation.Provider
	hub      *Hub
}

func NewChatHandler(svc *services.ConversationService, provider generation.Provider, hub *Hub) *ChatHandler {
	return &ChatHandler{svc: svc, provider: provider, hub: hub}
}

func (h *ChatHandler) publish(evt Event) {
	if h.hub != nil {
		h.hub.Broadcast(evt)
	}
}

// prepare validates the request, persists the user turn and returns the
// history to send to the provider. The user turn stays persisted even if
// generation later fails; history is already durable at that point.
func (h *ChatHandler) prepare(c *fiber.Ctx) (uuid.UUID, string, *models.Message, []generation.Turn, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, "", nil, nil, badRequest(c, "Invalid conversation ID")
	}
	userID := currentUserID(c)
	if userID == "" {
		return uuid.Nil, "", nil, nil, badRequest(c, "userId is required")
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil || req.Message == "" {
		return uuid.Nil, "", nil, nil, badRequest(c, "message is required")
	}

	if _, err := h.svc.Get(id, userID); err != nil {
		return uuid.Nil, "", nil, nil, serviceError(c, err)
	}

	userMsg, err := h.svc.AppendMessage(id, models.RoleUser, req.Message, 0, 0)
	if err != nil {
		return uuid.Nil, "", nil, nil, serviceError(c, err)
	}
	h.publish(Event{Type: "message.created", UserID: userID, ConversationID: id.String(), Data: userMsg})

	msgs, err := h.svc.Messages(id)
	if err != nil {
		return uuid.Nil, "", nil, nil, serviceError(c, err)
	}
	history := make([]generation.Turn, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, generation.Turn{Role: m.Role, Content: m.Content})
	}

	return id, userID, userMsg, history, nil
}

// finish persists the assistant turn and applies auto-titling.
func (h *ChatHandler) finish(id uuid.UUID, userID string, result *generation.Result) (*models.Message, error) {
	assistantMsg, err := h.svc.AppendMessage(id, models.RoleAssistant, result.Content, result.TokensUsed, result.Cost)
	if err != nil {
		return nil, err
	}
	h.publish(Event{Type: "message.created", UserID: userID, ConversationID: id.String(), Data: assistantMsg})

	if _, err := h.svc.AutoTitle(id, userID); err != nil {
		slog.Warn("auto-title failed", "conversation_id", id, "error", err)
	}
	return assistantMsg, nil
}

// SendMessage is the non-streaming chat flow.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	id, userID, userMsg, history, errResp := h.prepare(c)
	if userMsg == nil {
		return errResp
	}

	result, err := h.provider.Generate(c.Context(), history)
	if err != nil {
		slog.Error("generation failed", "conversation_id", id, "error", err)
		return fail(c, fiber.StatusBadGateway, CodeDependency, "AI service unavailable")
	}

	assistantMsg, err := h.finish(id, userID, result)
	if err != nil {
		return serviceError(c, err)
	}

	conv, err := h.svc.Get(id, userID)
	if err != nil {
		return serviceError(c, err)
	}

	return ok(c, fiber.Map{
		"user_message":      userMsg,
		"assistant_message": assistantMsg,
		"conversation":      conv,
	})
}

// StreamMessage is the SSE variant: tokens are forwarded as they arrive, the
// final event carries the persisted message ids.
func (h *ChatHandler) StreamMessage(c *fiber.Ctx) error {
	id, userID, userMsg, history, errResp := h.prepare(c)
	if userMsg == nil {
		return errResp
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		writeEvent := func(payload map[string]interface{}) {
			data, _ := json.Marshal(payload)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()
		}

		// The fiber request context is gone once streaming starts.
		result, err := h.provider.GenerateStream(context.Background(), history, func(token string) {
			writeEvent(map[string]interface{}{"token": token, "done": false})
		})
		if err != nil {
			slog.Error("generation stream failed", "conversation_id", id, "error", err)
			writeEvent(map[string]interface{}{"done": true, "error": "AI service unavailable"})
			return
		}

		assistantMsg, err := h.finish(id, userID, result)
		if err != nil {
			slog.Error("persisting streamed reply failed", "conversation_id", id, "error", err)
			writeEvent(map[string]interface{}{"done": true, "error": "Failed to save reply"})
			return
		}

		writeEvent(map[string]interface{}{
			"done":                 true,
			"conversation_id":      id.String(),
			"user_message_id":      userMsg.ID.String(),
			"assistant_message_id": assistantMsg.ID.String(),
			"tokens_used":          result.TokensUsed,
			"cost":                 result.Cost,
		})
	})

	return nil
}
