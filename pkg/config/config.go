package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Processor ProcessorConfig `yaml:"processor"`
	Loader    LoaderConfig    `yaml:"loader"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Engine    EngineConfig    `yaml:"engine"`
	Eval      EvalConfig      `yaml:"eval"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
	GitHub    GitHubConfig    `yaml:"github"`

	// Prompts overrides built-in prompt templates by name.
	Prompts map[string]PromptConfig `yaml:"prompts"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Streaming   bool    `yaml:"streaming"`
}

type EmbeddingConfig struct {
	Provider  string  `yaml:"provider"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	Encoding  string  `yaml:"encoding"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
}

type DatabaseConfig struct {
	Backend   string `yaml:"backend"`
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type LoaderConfig struct {
	Workers           int      `yaml:"workers"`
	MaxFileSize       int64    `yaml:"max_file_size"`
	ExcludeExtensions []string `yaml:"exclude_extensions"`
	UseGitIgnore      bool     `yaml:"use_gitignore"`
	CheckoutDir       string   `yaml:"checkout_dir"`
	CloneRetries      uint64   `yaml:"clone_retries"`
	DefaultBranch     string   `yaml:"default_branch"`
}

type IngestConfig struct {
	Workers int `yaml:"workers"`
}

type EngineConfig struct {
	Mode             string `yaml:"mode"`
	InitialThreshold int    `yaml:"initial_threshold"`
	Decrement        int    `yaml:"decrement"`
	TopK             int    `yaml:"top_k"`
	Reformulations   int    `yaml:"reformulations"`
	UpgradeQuery     bool   `yaml:"upgrade_query"`
}

type EvalConfig struct {
	RunsPerQuery int             `yaml:"runs_per_query"`
	MaxWorkers   int             `yaml:"max_workers"`
	Mode         string          `yaml:"mode"`
	Queries      []string        `yaml:"queries"`
	Variants     []VariantConfig `yaml:"variants"`
	Output       string          `yaml:"output"` // CSV path; empty prints a summary only
}

// VariantConfig is one engine configuration compared by the eval command.
// Zero fields, and an unset upgrade_query, fall back to the engine section.
type VariantConfig struct {
	Name             string `yaml:"name"`
	Mode             string `yaml:"mode"`
	InitialThreshold int    `yaml:"initial_threshold"`
	Decrement        int    `yaml:"decrement"`
	Reformulations   int    `yaml:"reformulations"`
	UpgradeQuery     *bool  `yaml:"upgrade_query"`
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type GitHubConfig struct {
	Token string `yaml:"token"`
}

type PromptConfig struct {
	InputVariables []string `yaml:"input_variables"`
	Template       string   `yaml:"template"`
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendPGVector = "pgvector"
	BackendMemory   = "memory"

	ModeAdaptive = "adaptive"
	ModeSimple   = "simple"

	EvalModeProcess   = "process"
	EvalModeInProcess = "inprocess"
)

// DefaultExcludeExtensions are file types that never carry useful source text.
var DefaultExcludeExtensions = []string{
	".ipynb", ".yaml", ".yml", ".json", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".csv",
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"repochat.yaml",
			"config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/repochat/config.yaml"),
			"/etc/repochat/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = ProviderOpenAI
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "gpt-3.5-turbo"
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == ProviderOllama {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = config.LLM.Provider
	}
	if config.Embedding.Model == "" {
		if config.Embedding.Provider == ProviderOllama {
			config.Embedding.Model = "nomic-embed-text:latest"
		} else {
			config.Embedding.Model = "text-embedding-ada-002"
		}
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.Encoding == "" {
		config.Embedding.Encoding = "cl100k_base"
	}

	if config.Database.Backend == "" {
		config.Database.Backend = BackendPGVector
	}
	if config.Database.TableName == "" {
		config.Database.TableName = "repo_chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 1536
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 200
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 400
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 20
	}

	if config.Loader.Workers == 0 {
		config.Loader.Workers = 8
	}
	if config.Loader.MaxFileSize == 0 {
		config.Loader.MaxFileSize = 1 << 20
	}
	if config.Loader.ExcludeExtensions == nil {
		config.Loader.ExcludeExtensions = DefaultExcludeExtensions
	}
	if config.Loader.CheckoutDir == "" {
		config.Loader.CheckoutDir = "./data"
	}
	if config.Loader.CloneRetries == 0 {
		config.Loader.CloneRetries = 3
	}
	if config.Loader.DefaultBranch == "" {
		config.Loader.DefaultBranch = "main"
	}

	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 8
	}

	if config.Engine.Mode == "" {
		config.Engine.Mode = ModeAdaptive
	}
	if config.Engine.InitialThreshold == 0 {
		config.Engine.InitialThreshold = 60
	}
	if config.Engine.Decrement == 0 {
		config.Engine.Decrement = 10
	}
	if config.Engine.TopK == 0 {
		config.Engine.TopK = 5
	}
	if config.Engine.Reformulations == 0 {
		config.Engine.Reformulations = 5
	}

	if config.Eval.RunsPerQuery == 0 {
		config.Eval.RunsPerQuery = 5
	}
	if config.Eval.MaxWorkers == 0 {
		config.Eval.MaxWorkers = 4
	}
	if config.Eval.Mode == "" {
		config.Eval.Mode = EvalModeProcess
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 2
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" && config.GitHub.Token == "" {
		config.GitHub.Token = token
	}
}
