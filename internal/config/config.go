package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderTemplate = "template"
)

type Config struct {
	// Server
	Port          string
	Env           string
	PublicBaseURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Participant session tokens
	SessionTokenSecret string
	SessionTokenTTL    time.Duration

	// Admin
	AdminPassword     string
	AdminPasswordHash string

	// Chat completion
	LLMProvider        string
	OpenAIAPIKey       string
	OpenAIChatModel    string
	OpenAISummaryModel string
	GeminiAPIKey       string
	GeminiModel        string
	LLMConcurrentReqs  int

	// Speech
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	// Workers
	WorkerCount int

	// Live sessions
	LiveIdleTimeout time.Duration

	// Rate limiting (participant AI routes)
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "json"),
		DatabaseURL:        mustGetEnv("DATABASE_URL"),
		RedisURL:           mustGetEnv("REDIS_URL"),
		SessionTokenSecret: mustGetEnv("SESSION_TOKEN_SECRET"),
		SessionTokenTTL:    getEnvAsDurationOrDefault("SESSION_TOKEN_TTL", 4*time.Hour),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash:  os.Getenv("ADMIN_PASSWORD_HASH"),
		LLMProvider:        getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIChatModel:    getEnvOrDefault("OPENAI_CHAT_MODEL", "gpt-5"),
		OpenAISummaryModel: getEnvOrDefault("OPENAI_SUMMARY_MODEL", "gpt-5-mini"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMConcurrentReqs:  getEnvAsIntOrDefault("LLM_CONCURRENT_REQUESTS", 5),
		ElevenLabsAPIKey:   os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  getEnvOrDefault("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsModelID:  getEnvOrDefault("ELEVENLABS_MODEL_ID", "eleven_turbo_v2"),
		WorkerCount:        getEnvAsIntOrDefault("WORKER_COUNT", 3),
		LiveIdleTimeout:    getEnvAsDurationOrDefault("LIVE_IDLE_TIMEOUT", 30*time.Minute),
		RateLimitPerSecond: getEnvAsFloatOrDefault("RATE_LIMIT_RPS", 2),
		RateLimitBurst:     getEnvAsIntOrDefault("RATE_LIMIT_BURST", 10),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}
	cfg.PublicBaseURL = getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:"+cfg.Port)

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
