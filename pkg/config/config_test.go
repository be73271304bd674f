package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_chunks"
  vector_dim: 768
  batch_size: 50

processor:
  chunk_size: 500
  chunk_overlap: 40

engine:
  initial_threshold: 70
  decrement: 20

prompts:
  critic:
    input_variables: ["query", "response", "repo"]
    template: "Rate {{.response}} for {{.query}} in {{.repo}}"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, ProviderOllama, config.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, 768, config.Database.VectorDim)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 70, config.Engine.InitialThreshold)
	assert.Equal(t, 20, config.Engine.Decrement)

	// Unset sections fall back to defaults
	assert.Equal(t, ProviderOllama, config.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text:latest", config.Embedding.Model)
	assert.Equal(t, 5, config.Engine.Reformulations)
	assert.Equal(t, DefaultExcludeExtensions, config.Loader.ExcludeExtensions)

	require.Contains(t, config.Prompts, "critic")
	assert.Equal(t, []string{"query", "response", "repo"}, config.Prompts["critic"].InputVariables)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	assert.Equal(t, 400, config.Processor.ChunkSize)
	assert.Equal(t, 20, config.Processor.ChunkOverlap)
	assert.Equal(t, 60, config.Engine.InitialThreshold)
	assert.Equal(t, 10, config.Engine.Decrement)
	assert.Equal(t, 5, config.Engine.TopK)
	assert.Equal(t, 200, config.Database.BatchSize)
	assert.Equal(t, 8, config.Loader.Workers)
	assert.Equal(t, "cl100k_base", config.Embedding.Encoding)
}

func validConfig() Config {
	config := Config{
		LLM:      LLMConfig{APIKey: "sk-test"},
		Database: DatabaseConfig{URL: "postgres://localhost:5432/test"},
	}
	applyDefaults(&config)
	return config
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		expectedErrs  int
		errorMessages []string
	}{
		{
			name:         "valid config",
			mutate:       func(*Config) {},
			expectedErrs: 0,
		},
		{
			name: "memory backend needs no url",
			mutate: func(c *Config) {
				c.Database.Backend = BackendMemory
				c.Database.URL = ""
				c.Eval.Mode = EvalModeInProcess
			},
			expectedErrs: 0,
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.APIKey = ""
				c.LLM.Temperature = 3.0
				c.Database.VectorDim = -1
				c.Processor.ChunkOverlap = 400
				c.Engine.Mode = "greedy"
			},
			expectedErrs: 5,
			errorMessages: []string{
				"llm.api_key: api key is required",
				"llm.temperature: temperature must be between 0 and 2",
				"database.vector_dim: vector_dim must be positive",
				"processor.chunk_overlap",
				`engine.mode: unknown mode "greedy"`,
			},
		},
		{
			name: "process eval over memory backend",
			mutate: func(c *Config) {
				c.Database.Backend = BackendMemory
			},
			expectedErrs:  1,
			errorMessages: []string{"eval.mode: process mode needs a shared index"},
		},
		{
			name: "bad extension",
			mutate: func(c *Config) {
				c.Loader.ExcludeExtensions = []string{"png"}
			},
			expectedErrs:  1,
			errorMessages: []string{"invalid extension format: png"},
		},
		{
			name: "eval variants",
			mutate: func(c *Config) {
				c.Eval.Variants = []VariantConfig{
					{Name: "strict", InitialThreshold: 80},
					{Name: "strict", Mode: ModeSimple},
					{Mode: "greedy"},
				}
			},
			expectedErrs: 3,
			errorMessages: []string{
				`eval.variants[1].name: duplicate variant "strict"`,
				"eval.variants[2].name: name is required",
				`eval.variants[2].mode: unknown mode "greedy"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			errors := config.Validate()
			assert.Len(t, errors, tt.expectedErrs)

			for i, msg := range tt.errorMessages {
				require.Less(t, i, len(errors))
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GITHUB_TOKEN", "ghp-env")

	config := &Config{GitHub: GitHubConfig{Token: "ghp-file"}}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "sk-env", config.LLM.APIKey)
	assert.Equal(t, "ghp-file", config.GitHub.Token)
}
