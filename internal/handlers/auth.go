package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kha1dx/clarityai/internal/config"
	"github.com/kha1dx/clarityai/internal/middleware"
)

// AuthHandler is the thin session provider: it mints the JWT pair the rest of
// the API consumes only as "resolve current user id".
type AuthHandler struct {
	cfg          *config.Config
	passwordHash string
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	// Hash the configured password on startup
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AppPassword), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash app password", "error", err)
	}
	return &AuthHandler{
		cfg:          cfg,
		passwordHash: string(hash),
	}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if req.Username != h.cfg.AppUsername {
		return fail(c, fiber.StatusUnauthorized, CodeAuth, "Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)); err != nil {
		return fail(c, fiber.StatusUnauthorized, CodeAuth, "Invalid credentials")
	}

	access, refresh, err := middleware.GenerateTokens(h.cfg.AppUserID, req.Username, h.cfg.JWTSecret)
	if err != nil {
		slog.Error("Failed to generate tokens", "error", err)
		return fail(c, fiber.StatusInternalServerError, CodeDependency, "Failed to generate tokens")
	}

	return ok(c, fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"user": fiber.Map{
			"id":       h.cfg.AppUserID,
			"username": req.Username,
		},
	})
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	claims := &middleware.Claims{}
	token, err := jwt.ParseWithClaims(req.RefreshToken, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return fail(c, fiber.StatusUnauthorized, CodeAuth, "Invalid or expired refresh token")
	}

	access, refresh, err := middleware.GenerateTokens(claims.UserID, claims.Username, h.cfg.JWTSecret)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeDependency, "Failed to generate tokens")
	}

	return ok(c, fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"user": fiber.Map{
			"id":       claims.UserID,
			"username": claims.Username,
		},
	})
}
