package profile

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultEmbeddingDimensions is the vector width used when the profile does
// not specify one. It must match the embedding column width of every table
// the store touches.
const DefaultEmbeddingDimensions = 384

// Profile is the runtime configuration for a memory store client.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Driver is the database driver (postgres or sqlite)
	Driver string
	// DSN points to where the memory store keeps its data
	DSN string

	// Embedding provider configuration
	EmbeddingProvider   string // AGENTMEMORY_EMBEDDING_PROVIDER (openai, siliconflow, ollama, local)
	EmbeddingAPIKey     string // AGENTMEMORY_EMBEDDING_API_KEY
	EmbeddingBaseURL    string // AGENTMEMORY_EMBEDDING_BASE_URL
	EmbeddingModel      string // AGENTMEMORY_EMBEDDING_MODEL (default: text-embedding-3-small)
	EmbeddingDimensions int    // AGENTMEMORY_EMBEDDING_DIMENSIONS (default: 384)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// Dimensions returns the configured embedding width or the default.
func (p *Profile) Dimensions() int {
	if p.EmbeddingDimensions > 0 {
		return p.EmbeddingDimensions
	}
	return DefaultEmbeddingDimensions
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from AGENTMEMORY_* environment variables.
// Values already set on the profile act as defaults.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("AGENTMEMORY_MODE", p.Mode)
	p.Driver = getEnvOrDefault("AGENTMEMORY_DRIVER", p.Driver)
	p.DSN = getEnvOrDefault("AGENTMEMORY_DSN", p.DSN)

	p.EmbeddingProvider = getEnvOrDefault("AGENTMEMORY_EMBEDDING_PROVIDER", p.EmbeddingProvider)
	p.EmbeddingAPIKey = getEnvOrDefault("AGENTMEMORY_EMBEDDING_API_KEY", p.EmbeddingAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("AGENTMEMORY_EMBEDDING_BASE_URL", p.EmbeddingBaseURL)
	p.EmbeddingModel = getEnvOrDefault("AGENTMEMORY_EMBEDDING_MODEL", p.EmbeddingModel)

	if v := os.Getenv("AGENTMEMORY_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.EmbeddingDimensions = n
		}
	}
}

// Validate checks the profile and fills in defaults.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}

	switch p.Driver {
	case "":
		p.Driver = "postgres"
	case "postgres", "sqlite":
	default:
		return errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", p.Driver)
	}

	if strings.TrimSpace(p.DSN) == "" {
		return errors.New("dsn is required")
	}

	if p.EmbeddingProvider == "" {
		p.EmbeddingProvider = "openai"
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = "text-embedding-3-small"
	}
	if p.EmbeddingDimensions == 0 {
		p.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if p.EmbeddingDimensions < 0 {
		return errors.Errorf("invalid embedding dimensions: %d", p.EmbeddingDimensions)
	}

	return nil
}
