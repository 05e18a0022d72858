package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kha1dx/clarityai/internal/config"
	"github.com/kha1dx/clarityai/internal/handlers"
	"github.com/kha1dx/clarityai/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	conversationHandler *handlers.ConversationHandler,
	chatHandler *handlers.ChatHandler,
	systemHandler *handlers.SystemHandler,
	hub *handlers.Hub,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── API ─────────────────────────────────────────────────────────────
	api := app.Group("/api", middleware.ResolveUser(cfg.JWTSecret))

	// Conversations
	api.Get("/conversations", conversationHandler.ListConversations)
	api.Post("/conversations", conversationHandler.CreateConversation)
	api.Get("/conversations/stats", conversationHandler.UserStats)
	api.Get("/conversations/:id", conversationHandler.GetConversation)
	api.Put("/conversations/:id", conversationHandler.UpdateConversation)
	api.Delete("/conversations/:id", conversationHandler.DeleteConversation)
	api.Post("/conversations/:id/star", conversationHandler.StarConversation)
	api.Post("/conversations/:id/archive", conversationHandler.ArchiveConversation)
	api.Put("/conversations/:id/tags", conversationHandler.SetTags)
	api.Post("/conversations/:id/tags", conversationHandler.AddTags)

	// Messages
	api.Post("/conversations/:id/messages", conversationHandler.AddMessage)
	api.Patch("/conversations/:id/messages/:messageId", conversationHandler.UpdateMessage)

	// Chat
	api.Post("/conversations/:id/chat", chatHandler.SendMessage)
	api.Post("/conversations/:id/chat/stream", chatHandler.StreamMessage)

	// Analytics
	api.Get("/conversations/:id/analytics", conversationHandler.ConversationAnalytics)

	// Prompt artifacts
	api.Post("/conversations/:id/prompts", conversationHandler.SavePrompt)
	api.Get("/conversations/:id/prompts", conversationHandler.ListPrompts)
	api.Delete("/prompts/:id", conversationHandler.DeletePrompt)

	// Event feed (WebSocket)
	api.Use("/ws", hub.UpgradeCheck())
	api.Get("/ws", hub.Handle())
}
