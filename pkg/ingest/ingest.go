// Package ingest turns loaded documents into embedding records in a vector
// index namespace.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
	"github.com/xhad/repochat/pkg/processor"
	"github.com/xhad/repochat/pkg/store"
)

type Stage string

const (
	StageEmbed  Stage = "embed"
	StageUpsert Stage = "upsert"
)

// ProgressFunc is called as work completes. It may be called from several
// goroutines at once.
type ProgressFunc func(stage Stage, done, total int)

type Config struct {
	Workers   int
	BatchSize int
	Progress  ProgressFunc
	Logger    *slog.Logger
}

// BatchFailure records one upsert batch that the index rejected.
type BatchFailure struct {
	Batch   int    `json:"batch"`
	Records int    `json:"records"`
	Error   string `json:"error"`
}

// Report summarises one ingestion run.
type Report struct {
	Namespace string            `json:"namespace"`
	Documents int               `json:"documents"`
	Chunks    int               `json:"chunks"`
	Upserted  int               `json:"upserted"`
	Batches   int               `json:"batches"`
	Failed    []BatchFailure    `json:"failed,omitempty"`
	Index     models.IndexStats `json:"index"`
	Duration  time.Duration     `json:"duration"`
}

// FailedRecords is the number of records lost to failed batches.
func (r *Report) FailedRecords() int {
	n := 0
	for _, f := range r.Failed {
		n += f.Records
	}
	return n
}

type Pipeline struct {
	config    Config
	processor *processor.Processor
	embedder  types.Embedder
	index     types.Index
	logger    *slog.Logger
}

func New(config Config, p *processor.Processor, embedder types.Embedder, index types.Index) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}
	if config.Progress == nil {
		config.Progress = func(Stage, int, int) {}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		config:    config,
		processor: p,
		embedder:  embedder,
		index:     index,
		logger:    logger,
	}
}

// Run replaces the contents of namespace with a record for every chunk of
// docs.
//
// Chunking, embedding and dimension errors abort the run before the
// namespace is touched, so the previous index survives them. Upsert failures
// are per batch and end up in Report.Failed.
func (p *Pipeline) Run(ctx context.Context, namespace string, docs []models.Document) (*Report, error) {
	start := time.Now()
	report := &Report{Namespace: namespace, Documents: len(docs)}

	records, err := p.embed(ctx, docs)
	if err != nil {
		return nil, err
	}
	report.Chunks = len(records)

	if err := p.index.Reset(ctx, namespace); err != nil {
		return nil, fmt.Errorf("failed to reset namespace %s: %w", namespace, err)
	}

	p.upsert(ctx, namespace, records, report)

	stats, err := p.index.Stats(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}
	report.Index = stats
	report.Duration = time.Since(start)

	p.logger.Info("ingestion finished",
		"namespace", namespace,
		"documents", report.Documents,
		"chunks", report.Chunks,
		"upserted", report.Upserted,
		"failed_batches", len(report.Failed),
		"index_records", stats.Records,
		"duration", report.Duration)

	return report, nil
}

// embed chunks and embeds each document on the worker pool. Each task
// writes only its own slot of perDoc.
func (p *Pipeline) embed(ctx context.Context, docs []models.Document) ([]models.Record, error) {
	perDoc := make([][]models.Record, len(docs))
	dim := p.index.Dimension()

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			chunks, err := p.processor.Process(doc)
			if err != nil {
				return fmt.Errorf("failed to chunk %s: %w", doc.FilePath, err)
			}
			if len(chunks) > 0 {
				texts := make([]string, len(chunks))
				for j, c := range chunks {
					texts[j] = c.Text
				}

				vectors, err := p.embedder.EmbedDocuments(gctx, texts)
				if err != nil {
					return fmt.Errorf("failed to embed %s: %w", doc.FilePath, err)
				}
				if len(vectors) != len(chunks) {
					return fmt.Errorf("failed to embed %s: got %d vectors for %d chunks", doc.FilePath, len(vectors), len(chunks))
				}

				records := make([]models.Record, len(chunks))
				for j, c := range chunks {
					if len(vectors[j]) != dim {
						return fmt.Errorf("%s: %w: embedding has %d dimensions, index has %d",
							doc.FilePath, store.ErrDimensionMismatch, len(vectors[j]), dim)
					}
					records[j] = models.Record{
						ID:       c.ID,
						Vector:   vectors[j],
						Text:     c.Text,
						Metadata: c.Metadata,
					}
				}
				perDoc[i] = records
			}

			p.config.Progress(StageEmbed, int(done.Add(1)), len(docs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Record
	for _, records := range perDoc {
		all = append(all, records...)
	}
	return all, nil
}

// upsert writes records in fixed-size batches. A failed batch does not stop
// the others.
func (p *Pipeline) upsert(ctx context.Context, namespace string, records []models.Record, report *Report) {
	batches := Batches(records, p.config.BatchSize)
	report.Batches = len(batches)

	errs := make([]error, len(batches))
	var done atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.config.Workers)

	for i, batch := range batches {
		g.Go(func() error {
			errs[i] = p.index.Upsert(ctx, namespace, batch)
			p.config.Progress(StageUpsert, int(done.Add(1)), len(batches))
			return nil
		})
	}
	g.Wait()

	for i, err := range errs {
		if err != nil {
			p.logger.Warn("upsert batch failed", "namespace", namespace, "batch", i, "records", len(batches[i]), "error", err)
			report.Failed = append(report.Failed, BatchFailure{
				Batch:   i,
				Records: len(batches[i]),
				Error:   err.Error(),
			})
			continue
		}
		report.Upserted += len(batches[i])
	}
}

// Batches splits records into consecutive slices of at most size.
func Batches(records []models.Record, size int) [][]models.Record {
	if size <= 0 {
		size = len(records)
	}
	var out [][]models.Record
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}
