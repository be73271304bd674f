package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			add("llm.api_key", "api key is required for the openai provider")
		}
	case ProviderOllama:
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider %q", c.LLM.Provider))
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" {
			add("llm.base_url", "invalid base URL")
		}
	}

	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens", "max_tokens cannot be negative")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Validate embedding config
	if c.Embedding.Provider != ProviderOpenAI && c.Embedding.Provider != ProviderOllama {
		add("embedding.provider", fmt.Sprintf("unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding.rate_limit", "rate_limit cannot be negative")
	}

	// Validate Database config
	switch c.Database.Backend {
	case BackendPGVector:
		if c.Database.URL == "" {
			add("database.url", "database URL is required for the pgvector backend")
		} else if _, err := url.Parse(c.Database.URL); err != nil {
			add("database.url", "invalid database URL")
		}
	case BackendMemory:
	default:
		add("database.backend", fmt.Sprintf("unknown backend %q", c.Database.Backend))
	}

	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Validate loader and pools
	if c.Loader.Workers < 1 {
		add("loader.workers", "workers must be positive")
	}
	for _, ext := range c.Loader.ExcludeExtensions {
		if !strings.HasPrefix(ext, ".") {
			add("loader.exclude_extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}
	if c.Ingest.Workers < 1 {
		add("ingest.workers", "workers must be positive")
	}

	// Validate engine config
	if c.Engine.Mode != ModeAdaptive && c.Engine.Mode != ModeSimple {
		add("engine.mode", fmt.Sprintf("unknown mode %q", c.Engine.Mode))
	}
	if c.Engine.InitialThreshold < 1 || c.Engine.InitialThreshold > 100 {
		add("engine.initial_threshold", "initial_threshold must be between 1 and 100")
	}
	if c.Engine.Decrement < 1 {
		add("engine.decrement", "decrement must be positive")
	}
	if c.Engine.TopK < 1 {
		add("engine.top_k", "top_k must be positive")
	}
	if c.Engine.Reformulations < 1 {
		add("engine.reformulations", "reformulations must be positive")
	}

	// Validate eval config
	if c.Eval.RunsPerQuery < 1 {
		add("eval.runs_per_query", "runs_per_query must be positive")
	}
	if c.Eval.MaxWorkers < 1 {
		add("eval.max_workers", "max_workers must be positive")
	}
	switch c.Eval.Mode {
	case EvalModeProcess:
		if c.Database.Backend == BackendMemory {
			add("eval.mode", "process mode needs a shared index; the memory backend is per-process")
		}
	case EvalModeInProcess:
	default:
		add("eval.mode", fmt.Sprintf("unknown mode %q", c.Eval.Mode))
	}
	names := make(map[string]bool, len(c.Eval.Variants))
	for i, v := range c.Eval.Variants {
		field := fmt.Sprintf("eval.variants[%d]", i)
		if v.Name == "" {
			add(field+".name", "name is required")
		} else if names[v.Name] {
			add(field+".name", fmt.Sprintf("duplicate variant %q", v.Name))
		}
		names[v.Name] = true
		if v.Mode != "" && v.Mode != ModeAdaptive && v.Mode != ModeSimple {
			add(field+".mode", fmt.Sprintf("unknown mode %q", v.Mode))
		}
		if v.InitialThreshold < 0 || v.InitialThreshold > 100 {
			add(field+".initial_threshold", "initial_threshold must be between 0 and 100")
		}
		if v.Decrement < 0 || v.Reformulations < 0 {
			add(field, "decrement and reformulations cannot be negative")
		}
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 0 {
		add("scraper.max_depth", "max_depth cannot be negative")
	}
	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}
	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	return errors
}
