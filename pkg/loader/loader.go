// Package loader reads the text files of a checked-out repository.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
)

// Predicate reports whether a path, slash-separated and relative to the
// repository root, should be loaded.
type Predicate func(relPath string) bool

type Config struct {
	Workers           int
	MaxFileSize       int64
	ExcludeExtensions []string
	// Predicate replaces the extension filter when set.
	Predicate Predicate
	Logger    *slog.Logger
}

// Stats counts what happened to every file the walk found.
type Stats struct {
	Candidates int `json:"candidates"`
	Loaded     int `json:"loaded"`
	Filtered   int `json:"filtered"`
	Ignored    int `json:"ignored"`
	Binary     int `json:"binary"`
	Failed     int `json:"failed"`
}

type Loader struct {
	config Config
	ignore types.IgnoreChecker
	logger *slog.Logger
}

// New returns a Loader. ignore may be nil when the checkout cannot report
// ignore rules.
func New(config Config, ignore types.IgnoreChecker) *Loader {
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 1 << 20
	}
	if config.Predicate == nil {
		config.Predicate = ExcludeExtensions(config.ExcludeExtensions)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{config: config, ignore: ignore, logger: logger}
}

// ExcludeExtensions builds a predicate that rejects the given extensions,
// compared case-insensitively.
func ExcludeExtensions(exts []string) Predicate {
	excluded := make(map[string]bool, len(exts))
	for _, ext := range exts {
		excluded[strings.ToLower(ext)] = true
	}
	return func(relPath string) bool {
		return !excluded[strings.ToLower(filepath.Ext(relPath))]
	}
}

type candidate struct {
	path    string
	relPath string
}

type outcome int

const (
	outcomeLoaded outcome = iota
	outcomeBinary
	outcomeFailed
)

type result struct {
	doc     models.Document
	outcome outcome
}

// Load returns the text documents under root. Binary files and unreadable
// files are counted in Stats and left out. The order of the returned
// documents is not the walk order.
func (l *Loader) Load(ctx context.Context, root string) ([]models.Document, Stats, error) {
	var stats Stats

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to resolve root: %w", err)
	}

	candidates, err := l.walk(absRoot, &stats)
	if err != nil {
		return nil, stats, err
	}

	candidates = l.dropIgnored(ctx, absRoot, candidates, &stats)

	results := make([]result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.Workers)

	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = l.read(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	docs := make([]models.Document, 0, len(results))
	for _, r := range results {
		switch r.outcome {
		case outcomeLoaded:
			stats.Loaded++
			docs = append(docs, r.doc)
		case outcomeBinary:
			stats.Binary++
		case outcomeFailed:
			stats.Failed++
		}
	}

	l.logger.Info("loaded repository",
		"root", absRoot,
		"documents", stats.Loaded,
		"binary", stats.Binary,
		"failed", stats.Failed,
		"ignored", stats.Ignored,
		"filtered", stats.Filtered)

	return docs, stats, nil
}

func (l *Loader) walk(absRoot string, stats *Stats) ([]candidate, error) {
	var out []candidate

	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			l.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if path != absRoot && d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks and other non-regular entries are never followed.
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		stats.Candidates++
		if !l.config.Predicate(rel) {
			stats.Filtered++
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > l.config.MaxFileSize {
			stats.Filtered++
			return nil
		}

		out = append(out, candidate{path: path, relPath: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", absRoot, err)
	}
	return out, nil
}

func (l *Loader) dropIgnored(ctx context.Context, absRoot string, candidates []candidate, stats *Stats) []candidate {
	if l.ignore == nil || len(candidates) == 0 {
		return candidates
	}

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.relPath
	}

	ignored, err := l.ignore.Ignored(ctx, absRoot, paths)
	if err != nil {
		l.logger.Warn("ignore rules unavailable", "root", absRoot, "error", err)
		return candidates
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if ignored[c.relPath] {
			stats.Ignored++
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (l *Loader) read(c candidate) result {
	data, err := os.ReadFile(c.path)
	if err != nil {
		l.logger.Warn("failed to read file", "path", c.relPath, "error", err)
		return result{outcome: outcomeFailed}
	}

	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		l.logger.Debug("skipping binary file", "path", c.relPath)
		return result{outcome: outcomeBinary}
	}

	return result{
		outcome: outcomeLoaded,
		doc: models.Document{
			Content:  string(data),
			FilePath: c.relPath,
			FileName: filepath.Base(c.relPath),
			FileType: filepath.Ext(c.relPath),
		},
	}
}
