package config

import (
	"os"
	"strconv"
	"time"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	BackendQdrant   = "qdrant"
	BackendPgVector = "pgvector"
	BackendMemory   = "memory"
)

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider string
	Model    string
}

type ChunkingConfig struct {
	BaseChunkSize int
	ChunkOverlap  int
	MinChunkSize  int
	MaxChunkSize  int
	TableMaxSize  int
}

type AgentConfig struct {
	MaxRewrites    int
	RetrieveLimit  int
	ScoreThreshold float64
	AskTimeout     time.Duration
}

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

type Config struct {
	DataDir        string
	ListenAddr     string
	VectorBackend  string
	SessionDBPath  string
	StructurePages bool

	PostgresDSN string
	Qdrant      QdrantConfig

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings EmbeddingConfig
	LLM        LLMConfig
	Chunking   ChunkingConfig
	Agent      AgentConfig
}

func Load() Config {
	return Config{
		DataDir:        getEnv("DOCINTEL_DATA_DIR", "./data"),
		ListenAddr:     getEnv("DOCINTEL_LISTEN_ADDR", ":8080"),
		VectorBackend:  getEnv("DOCINTEL_VECTOR_BACKEND", BackendQdrant),
		SessionDBPath:  getEnv("DOCINTEL_SESSION_DB", "./docintel-sessions.db"),
		StructurePages: getEnvBool("DOCINTEL_STRUCTURE_PAGES", false),

		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/docintel?sslmode=disable"),
		Qdrant: QdrantConfig{
			Host:       getEnv("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			UseTLS:     getEnvBool("QDRANT_USE_TLS", false),
			Collection: getEnv("QDRANT_COLLECTION", "hybrid_documents"),
		},

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOllama),
			Model:     getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 768),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOllama),
			Model:    getEnv("LLM_MODEL", "llama3.1"),
		},
		Chunking: ChunkingConfig{
			BaseChunkSize: getEnvInt("CHUNK_BASE_SIZE", 1200),
			ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 150),
			MinChunkSize:  getEnvInt("CHUNK_MIN_SIZE", 100),
			MaxChunkSize:  getEnvInt("CHUNK_MAX_SIZE", 2000),
			TableMaxSize:  getEnvInt("CHUNK_TABLE_MAX_SIZE", 3000),
		},
		Agent: AgentConfig{
			MaxRewrites:    getEnvInt("AGENT_MAX_REWRITES", 2),
			RetrieveLimit:  getEnvInt("AGENT_RETRIEVE_LIMIT", 8),
			ScoreThreshold: getEnvFloat("AGENT_SCORE_THRESHOLD", 0),
			AskTimeout:     getEnvDuration("AGENT_ASK_TIMEOUT", 2*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
