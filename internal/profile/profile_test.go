package profile

import (
	"os"
	"strings"
	"testing"
)

func TestEmbeddingProviderDefaults(t *testing.T) {
	clearEnvVars()

	tests := []struct {
		name            string
		provider        string
		expectedBaseURL string
		expectedModel   string
	}{
		{"openai defaults", "openai", "https://api.openai.com/v1", "text-embedding-3-small"},
		{"siliconflow defaults", "siliconflow", "https://api.siliconflow.cn/v1", "BAAI/bge-m3"},
		{"dashscope defaults", "dashscope", "https://dashscope.aliyuncs.com/compatible-mode/v1", "text-embedding-v3"},
		{"ollama defaults", "ollama", "http://localhost:11434/v1", "nomic-embed-text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &Profile{EmbeddingProvider: tt.provider}
			profile.FromEnv()

			if profile.EmbeddingBaseURL != tt.expectedBaseURL {
				t.Errorf("BaseURL: expected %q, got %q", tt.expectedBaseURL, profile.EmbeddingBaseURL)
			}
			if profile.EmbeddingModel != tt.expectedModel {
				t.Errorf("Model: expected %q, got %q", tt.expectedModel, profile.EmbeddingModel)
			}
		})
	}
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "embedding API key",
			envVar:   "RAGENGINE_EMBEDDING_API_KEY",
			envValue: "test-embedding-key",
			field:    func(p *Profile) string { return p.EmbeddingAPIKey },
			expected: "test-embedding-key",
		},
		{
			name:     "embedding base URL overrides provider default",
			envVar:   "RAGENGINE_EMBEDDING_BASE_URL",
			envValue: "http://localhost:9999/v1",
			field:    func(p *Profile) string { return p.EmbeddingBaseURL },
			expected: "http://localhost:9999/v1",
		},
		{
			name:     "redis address",
			envVar:   "RAGENGINE_REDIS_ADDR",
			envValue: "localhost:6379",
			field:    func(p *Profile) string { return p.RedisAddr },
			expected: "localhost:6379",
		},
		{
			name:     "extractor model",
			envVar:   "RAGENGINE_EXTRACTOR_MODEL",
			envValue: "gpt-4o-mini",
			field:    func(p *Profile) string { return p.ExtractorModel },
			expected: "gpt-4o-mini",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			t.Setenv(tt.envVar, tt.envValue)

			profile := &Profile{EmbeddingProvider: "openai"}
			profile.FromEnv()

			if actual := tt.field(profile); actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestEntityExtractionFlag(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"true", true},
		{"1", true},
		{"false", false},
		{"nonsense", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			clearEnvVars()
			t.Setenv("RAGENGINE_ENTITY_EXTRACTION", tt.value)

			profile := &Profile{}
			profile.FromEnv()

			if profile.EntityExtractionEnabled != tt.expected {
				t.Errorf("EntityExtractionEnabled: expected %v, got %v", tt.expected, profile.EntityExtractionEnabled)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	dataDir := t.TempDir()

	t.Run("postgres requires dsn", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: dataDir, Driver: "postgres"}
		if err := profile.Validate(); err == nil {
			t.Error("expected error for postgres without dsn")
		}
	})

	t.Run("sqlite derives dsn from data dir", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: dataDir, Driver: "sqlite"}
		if err := profile.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(profile.DSN, dataDir) {
			t.Errorf("DSN %q not under data dir %q", profile.DSN, dataDir)
		}
		if !strings.HasSuffix(profile.DSN, "ragengine_dev.db") {
			t.Errorf("DSN %q does not carry the mode-scoped file name", profile.DSN)
		}
	})

	t.Run("unknown driver rejected", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: dataDir, Driver: "oracle"}
		if err := profile.Validate(); err == nil {
			t.Error("expected error for unknown driver")
		}
	})

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		profile := &Profile{Mode: "staging", Data: dataDir, Driver: "sqlite"}
		if err := profile.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if profile.Mode != "demo" {
			t.Errorf("Mode: expected demo, got %q", profile.Mode)
		}
	})

	t.Run("embedding dimensions default applied", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: dataDir, Driver: "sqlite"}
		if err := profile.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if profile.EmbeddingDimensions != 1024 {
			t.Errorf("EmbeddingDimensions: expected 1024, got %d", profile.EmbeddingDimensions)
		}
	})
}

// clearEnvVars clears all RAGENGINE_ environment variables touched by FromEnv.
func clearEnvVars() {
	suffixes := []string{
		"EMBEDDING_PROVIDER",
		"EMBEDDING_MODEL",
		"EMBEDDING_API_KEY",
		"EMBEDDING_BASE_URL",
		"EMBEDDING_DIMENSIONS",
		"EXTRACTOR_MODEL",
		"EXTRACTOR_API_KEY",
		"EXTRACTOR_BASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"ENTITY_EXTRACTION",
	}
	for _, suffix := range suffixes {
		os.Unsetenv("RAGENGINE_" + suffix)
	}
}
