package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	ControlPlaneURL     string
	PostgresURL         string
	TemporalAddress     string
	TemporalTaskQueue   string
	StoredSecret        string
	SecretsKey          string
	LLMProvider         string
	LLMModel            string
	LLMBaseURL          string
	OpenAIAPIKey        string
	OpenRouterAPIKey    string
	BrowserHeadless     bool
	MaxQuestions        int
	ChainTimeoutSeconds int
}

// Load reads configuration from the environment, with a .env file as
// a convenience for local development. PostgresURL stays empty unless
// POSTGRES_URL or POSTGRES_HOST is set; callers treat empty as "use the
// in-memory store".
func Load() Config {
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" && os.Getenv("POSTGRES_HOST") != "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		Port:                port,
		ControlPlaneURL:     getEnv("CONTROL_PLANE_URL", "http://localhost:"+port),
		PostgresURL:         postgresURL,
		TemporalAddress:     getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:   getEnv("TEMPORAL_TASK_QUEUE", "quizchain-chains"),
		StoredSecret:        getEnv("STORED_SECRET", ""),
		SecretsKey:          getEnv("SECRETS_KEY", ""),
		LLMProvider:         getEnv("LLM_PROVIDER", "openai"),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o"),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),
		BrowserHeadless:     getEnvBool("BROWSER_HEADLESS", true),
		MaxQuestions:        getEnvInt("MAX_QUESTIONS", 20),
		ChainTimeoutSeconds: getEnvInt("CHAIN_TIMEOUT_SECONDS", 180),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "quizchain")
	password := getEnv("POSTGRES_PASSWORD", "quizchain")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "quizchain")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
