package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("AVA_TEST_VAR", "hello")

	assert.Equal(t, "hello", getEnvOrDefault("AVA_TEST_VAR", "default"))
	assert.Equal(t, "default", getEnvOrDefault("AVA_TEST_VAR_UNSET", "default"))
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"parses integer", "42", 42},
		{"uses default for empty", "", 10},
		{"uses default for non-numeric", "abc", 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("AVA_TEST_INT", tc.value)
			assert.Equal(t, tc.expected, getEnvAsIntOrDefault("AVA_TEST_INT", 10))
		})
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	t.Setenv("AVA_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getEnvAsDurationOrDefault("AVA_TEST_DURATION", time.Minute))

	t.Setenv("AVA_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvAsDurationOrDefault("AVA_TEST_DURATION", time.Minute))
}

func TestMustGetEnv(t *testing.T) {
	t.Setenv("AVA_TEST_REQUIRED", "value123")
	assert.Equal(t, "value123", mustGetEnv("AVA_TEST_REQUIRED"))

	assert.Panics(t, func() { mustGetEnv("AVA_TEST_REQUIRED_MISSING") })
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ava")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SESSION_TOKEN_SECRET", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ELEVENLABS_VOICE_ID", "")
	t.Setenv("PUBLIC_BASE_URL", "")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://localhost:9090", cfg.PublicBaseURL)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", cfg.ElevenLabsVoiceID)
	assert.Empty(t, cfg.AdminPassword)
	assert.Equal(t, 4*time.Hour, cfg.SessionTokenTTL)
}

func TestSetupLogger(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	setupLogger(&buf, "warn", "json")

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	require.Contains(t, out, `"component":"test"`)
	assert.Contains(t, out, `"level":"warn"`)
}
