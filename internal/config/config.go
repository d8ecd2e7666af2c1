package config

import (
	"os"
	"strconv"
	"time"
)

// Settings holds process-wide knobs read from the environment. Load .env
// before calling FromEnv (the cmd layer does this via godotenv).
type Settings struct {
	// Model ids per capability tier.
	ModelLight     string
	ModelMedium    string
	ModelReasoning string

	// Optional request throttling for the LLM client.
	RPS   float64
	Burst int

	// Timeout for one test-suite subprocess execution.
	TestTimeout time.Duration

	// Character budget per batched summary-generation call.
	MaxChars int
}

func FromEnv() Settings {
	s := Settings{
		ModelLight:     getenv("MODEL_LIGHT", "gemini-2.5-flash-lite"),
		ModelMedium:    getenv("MODEL_MEDIUM", "gemini-2.5-flash"),
		ModelReasoning: getenv("MODEL_REASONING", "gemini-2.5-pro"),
		TestTimeout:    time.Duration(getint("TEST_TIMEOUT", 1800)) * time.Second,
		MaxChars:       getint("MAX_CHARS", 24000),
	}
	if v := os.Getenv("LLM_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.RPS = f
		}
	}
	if v := os.Getenv("LLM_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Burst = n
		}
	}
	return s
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
