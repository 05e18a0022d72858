package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/kha1dx/clarityai/internal/config"
	"github.com/kha1dx/clarityai/internal/database"
	"github.com/kha1dx/clarityai/internal/generation"
	"github.com/kha1dx/clarityai/internal/handlers"
	"github.com/kha1dx/clarityai/internal/routes"
	"github.com/kha1dx/clarityai/internal/services"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting ClarityAI", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg); err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	db := database.DB

	// ─── Services ───────────────────────────────────────────────────────
	conversationService := services.NewConversationService(db)
	usageService := services.NewUsageService(db)
	provider := generation.NewClient(cfg.GenerationAPIURL, cfg.GenerationAPIKey, cfg.GenerationModel, cfg.GenerationCostPer1K)

	// ─── Handlers ───────────────────────────────────────────────────────
	hub := handlers.NewHub()
	authHandler := handlers.NewAuthHandler(cfg)
	conversationHandler := handlers.NewConversationHandler(conversationService, usageService, hub)
	chatHandler := handlers.NewChatHandler(conversationService, provider, hub)
	systemHandler := handlers.NewSystemHandler(db)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "clarityai v" + handlers.Version,
		ServerHeader: "clarityai",
		BodyLimit:    2 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   fiber.Map{"message": message},
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, conversationHandler, chatHandler, systemHandler, hub)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down ClarityAI...")

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("ClarityAI listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
