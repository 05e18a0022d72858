package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth
	AppUsername string
	AppPassword string
	AppUserID   string
	JWTSecret   string

	// Generation provider (OpenAI-compatible)
	GenerationAPIURL    string
	GenerationAPIKey    string
	GenerationModel     string
	GenerationCostPer1K float64 // cost per 1000 tokens, in the app's currency unit
}

func Load() *Config {
	costPer1K, _ := strconv.ParseFloat(getEnv("GENERATION_COST_PER_1K", "0.002"), 64)
	return &Config{
		Port:                getEnv("PORT", "8090"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		DBName:              getEnv("DB_NAME", "clarityai"),
		DBSSLMode:           getEnv("DB_SSLMODE", "disable"),
		AppUsername:         getEnv("APP_USERNAME", "demo"),
		AppPassword:         getEnv("APP_PASSWORD", ""),
		AppUserID:           getEnv("APP_USER_ID", "demo-user"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		GenerationAPIURL:    getEnv("GENERATION_API_URL", "https://api.openai.com/v1/chat/completions"),
		GenerationAPIKey:    getEnv("GENERATION_API_KEY", ""),
		GenerationModel:     getEnv("GENERATION_MODEL", "gpt-4o-mini"),
		GenerationCostPer1K: costPer1K,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
