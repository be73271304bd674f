package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
	"github.com/xhad/repochat/pkg/checkout"
	cfgPkg "github.com/xhad/repochat/pkg/config"
	"github.com/xhad/repochat/pkg/engine"
	"github.com/xhad/repochat/pkg/ingest"
	"github.com/xhad/repochat/pkg/llm"
	"github.com/xhad/repochat/pkg/loader"
	"github.com/xhad/repochat/pkg/processor"
	"github.com/xhad/repochat/pkg/retriever"
	"github.com/xhad/repochat/pkg/scraper"
	"github.com/xhad/repochat/pkg/store"
)

// app holds the services every subcommand shares.
type app struct {
	config *cfgPkg.Config
	logger *slog.Logger

	completer *llm.Client
	embedder  *llm.Embedder
	prompts   *llm.Prompts
	index     types.Index
	close     func()
}

func loadConfig() (*cfgPkg.Config, error) {
	config, err := cfgPkg.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}
	return config, nil
}

// newApp builds the model clients and opens the index.
func newApp(ctx context.Context, config *cfgPkg.Config) (*app, error) {
	logger := slog.Default()

	completer, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    config.LLM.Provider,
		Model:       config.LLM.Model,
		BaseURL:     config.LLM.BaseURL,
		APIKey:      config.LLM.APIKey,
		Temperature: config.LLM.Temperature,
		MaxTokens:   config.LLM.MaxTokens,
		Streaming:   config.LLM.Streaming,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  config.Embedding.Provider,
		Model:     config.Embedding.Model,
		BaseURL:   config.Embedding.BaseURL,
		APIKey:    config.LLM.APIKey,
		RateLimit: config.Embedding.RateLimit,
		BatchSize: config.Database.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]llm.PromptSpec, len(config.Prompts))
	for name, p := range config.Prompts {
		overrides[name] = llm.PromptSpec{InputVariables: p.InputVariables, Template: p.Template}
	}
	prompts, err := llm.NewPrompts(overrides)
	if err != nil {
		return nil, err
	}

	a := &app{
		config:    config,
		logger:    logger,
		completer: completer,
		embedder:  embedder,
		prompts:   prompts,
		close:     func() {},
	}

	switch config.Database.Backend {
	case cfgPkg.BackendMemory:
		a.index = store.NewMemoryIndex(config.Database.VectorDim)
	default:
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: config.Database.URL,
			TableName:  config.Database.TableName,
			VectorDim:  config.Database.VectorDim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		a.index = vs
		a.close = vs.Close
	}
	return a, nil
}

// namespaceFor is the index namespace and prompt identifier for repo.
func namespaceFor(repo, override string) string {
	if override != "" {
		return override
	}
	if isLocalDir(repo) {
		abs, err := filepath.Abs(repo)
		if err == nil {
			return filepath.Base(abs)
		}
	}
	return checkout.RepoName(repo)
}

func isLocalDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

type ingestOptions struct {
	Repo      string
	Branch    string
	Namespace string
	DocsURL   string
	Quiet     bool
}

// ingestRepo checks out (or opens) a repository, loads its files, optionally
// adds a scraped documentation site, and indexes everything under the
// namespace.
func (a *app) ingestRepo(ctx context.Context, opts ingestOptions) (*ingest.Report, error) {
	cfg := a.config
	namespace := namespaceFor(opts.Repo, opts.Namespace)

	git := checkout.New(checkout.Config{
		Dir:     cfg.Loader.CheckoutDir,
		Retries: cfg.Loader.CloneRetries,
		Logger:  a.logger,
	})
	var ignore types.IgnoreChecker
	if cfg.Loader.UseGitIgnore && checkout.Available() {
		ignore = git
	}

	root := opts.Repo
	if !isLocalDir(opts.Repo) {
		branch := opts.Branch
		if branch == "" {
			branch = cfg.Loader.DefaultBranch
		}
		spinner := getSpinner(fmt.Sprintf("Cloning %s...", opts.Repo), opts.Quiet)
		dir, err := git.Checkout(ctx, opts.Repo, branch)
		spinner.Finish()
		if err != nil {
			return nil, err
		}
		root = dir
	}

	l := loader.New(loader.Config{
		Workers:           cfg.Loader.Workers,
		MaxFileSize:       cfg.Loader.MaxFileSize,
		ExcludeExtensions: cfg.Loader.ExcludeExtensions,
		Logger:            a.logger,
	}, ignore)
	docs, stats, err := l.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", root, err)
	}
	say(opts.Quiet, color.GreenString("✓ Loaded %d files (%d filtered, %d ignored, %d binary, %d unreadable)",
		stats.Loaded, stats.Filtered, stats.Ignored, stats.Binary, stats.Failed))

	if opts.DocsURL != "" {
		pages, err := a.scrapeDocs(ctx, opts.DocsURL, opts.Quiet)
		if err != nil {
			return nil, err
		}
		docs = append(docs, pages...)
	}

	tokenizer, err := llm.NewTokenizer(cfg.Embedding.Encoding)
	if err != nil {
		return nil, err
	}
	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	}, tokenizer)
	if err != nil {
		return nil, err
	}

	bars := newStageBars(opts.Quiet)
	pipeline := ingest.New(ingest.Config{
		Workers:   cfg.Ingest.Workers,
		BatchSize: cfg.Database.BatchSize,
		Progress:  bars.update,
		Logger:    a.logger,
	}, proc, a.embedder, a.index)

	report, err := pipeline.Run(ctx, namespace, docs)
	bars.finish()
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (a *app) scrapeDocs(ctx context.Context, docsURL string, quiet bool) ([]models.Document, error) {
	var pages int32
	bar := getProgressBar(-1, "📄 Scraping documentation...", quiet)
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:           docsURL,
		MaxDepth:          a.config.Scraper.MaxDepth,
		RateLimit:         a.config.Scraper.RateLimit,
		IgnorePatterns:    a.config.Scraper.IgnorePatterns,
		AllowedExtensions: a.config.Scraper.AllowedExtensions,
		Logger:            a.logger,
		OnProgress: func(string) {
			bar.Set(int(atomic.AddInt32(&pages, 1)))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	docs, err := s.Scrape(ctx, docsURL)
	bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to scrape documents: %w", err)
	}
	say(quiet, color.GreenString("\n✓ Scraped %d pages", len(docs)))
	return docs, nil
}

// ensureIndexed makes sure the namespace has records. The memory backend
// starts empty in every process, so it is filled on demand; a persistent
// backend must have been filled by the ingest command.
func (a *app) ensureIndexed(ctx context.Context, repo, namespace string, quiet bool) error {
	stats, err := a.index.Stats(ctx, namespace)
	if err != nil {
		return err
	}
	if stats.Records > 0 {
		return nil
	}
	if a.config.Database.Backend != cfgPkg.BackendMemory {
		return fmt.Errorf("namespace %s is empty; run 'repochat ingest %s' first", namespace, repo)
	}
	_, err = a.ingestRepo(ctx, ingestOptions{Repo: repo, Namespace: namespace, Quiet: quiet})
	return err
}

func (a *app) retriever(namespace string) *retriever.Retriever {
	return retriever.New(a.embedder, a.index, namespace, namespace, a.config.Engine.TopK)
}

// engineConfig is the engine section of the configuration for repo.
func (a *app) engineConfig(repo string) engine.Config {
	e := a.config.Engine
	return engine.Config{
		Mode:             e.Mode,
		Repo:             repo,
		InitialThreshold: e.InitialThreshold,
		Decrement:        e.Decrement,
		Reformulations:   e.Reformulations,
		UpgradeQuery:     e.UpgradeQuery,
		Logger:           a.logger,
	}
}

func (a *app) newSession(namespace string, cfg engine.Config) (*engine.Session, error) {
	cfg.Logger = a.logger
	return engine.NewSession(a.retriever(namespace), a.completer, a.prompts, cfg)
}

func say(quiet bool, line string) {
	if !quiet {
		fmt.Println(line)
	}
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
