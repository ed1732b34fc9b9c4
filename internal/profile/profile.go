package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol).
	// All providers (openai, siliconflow, ollama, dashscope) use the same config.
	EmbeddingProvider   string // Provider identifier: openai, siliconflow, ollama, dashscope
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string // Optional, has default per provider
	EmbeddingDimensions int    // Must match the vector column the store was created with

	// Extraction LLM configuration (entity extraction, optional).
	ExtractorModel   string
	ExtractorAPIKey  string
	ExtractorBaseURL string

	// Cache configuration. Empty RedisAddr disables the remote cache store
	// and the cache layer degrades to always-miss.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Mode    string
	Addr    string
	Data    string
	Driver  string
	DSN     string
	Version string
	Port    int

	// Feature flags.
	EntityExtractionEnabled bool
}

// Provider default configurations for embedding.
// Used when RAGENGINE_EMBEDDING_BASE_URL is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "text-embedding-v3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// FromEnv fills profile fields from RAGENGINE_* environment variables.
// Values already present (flags/viper) are only overridden by explicitly set env vars.
func (p *Profile) FromEnv() {
	if v := os.Getenv("RAGENGINE_EMBEDDING_PROVIDER"); v != "" {
		p.EmbeddingProvider = v
	}
	if v := os.Getenv("RAGENGINE_EMBEDDING_MODEL"); v != "" {
		p.EmbeddingModel = v
	}
	if v := os.Getenv("RAGENGINE_EMBEDDING_API_KEY"); v != "" {
		p.EmbeddingAPIKey = v
	}
	if v := os.Getenv("RAGENGINE_EMBEDDING_BASE_URL"); v != "" {
		p.EmbeddingBaseURL = v
	}
	if v := os.Getenv("RAGENGINE_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.EmbeddingDimensions = n
		}
	}
	if v := os.Getenv("RAGENGINE_EXTRACTOR_MODEL"); v != "" {
		p.ExtractorModel = v
	}
	if v := os.Getenv("RAGENGINE_EXTRACTOR_API_KEY"); v != "" {
		p.ExtractorAPIKey = v
	}
	if v := os.Getenv("RAGENGINE_EXTRACTOR_BASE_URL"); v != "" {
		p.ExtractorBaseURL = v
	}
	if v := os.Getenv("RAGENGINE_REDIS_ADDR"); v != "" {
		p.RedisAddr = v
	}
	if v := os.Getenv("RAGENGINE_REDIS_PASSWORD"); v != "" {
		p.RedisPassword = v
	}
	if v := os.Getenv("RAGENGINE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.RedisDB = n
		}
	}
	if v := os.Getenv("RAGENGINE_ENTITY_EXTRACTION"); v != "" {
		p.EntityExtractionEnabled = parseBool(v)
	}

	p.applyProviderDefaults()
}

func (p *Profile) applyProviderDefaults() {
	defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]
	if !ok {
		return
	}
	if p.EmbeddingBaseURL == "" {
		p.EmbeddingBaseURL = defaults.BaseURL
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = defaults.Model
	}
}

// Validate checks the profile and normalizes derived fields.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(p.Data, fmt.Sprintf("ragengine_%s.db", p.Mode))
		}
	default:
		return errors.Errorf("unsupported database driver: %q", p.Driver)
	}

	if p.EmbeddingDimensions <= 0 {
		p.EmbeddingDimensions = 1024
	}

	return nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if a relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}
	// Trim trailing "/" in case the user supplies one.
	dataDir = strings.TrimRight(dataDir, "/")

	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}

	return dataDir, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
	return err == nil && b
}
