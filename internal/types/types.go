package types

import (
	"context"

	"github.com/xhad/repochat/internal/models"
)

// Core interfaces

// Completer is the language-model completion service.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (models.Completion, error)
}

// Embedder is the text-embedding service. EmbedDocuments returns one vector
// per input, in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Tokenizer counts tokens the way the embedding model does.
type Tokenizer interface {
	Count(text string) int
}

// Index is the vector index service, partitioned by namespace.
type Index interface {
	Dimension() int
	Reset(ctx context.Context, namespace string) error
	Upsert(ctx context.Context, namespace string, records []models.Record) error
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]models.Match, error)
	Stats(ctx context.Context, namespace string) (models.IndexStats, error)
}

// IgnoreChecker reports which paths (relative to root) the repository's own
// ignore rules exclude.
type IgnoreChecker interface {
	Ignored(ctx context.Context, root string, paths []string) (map[string]bool, error)
}

// Retriever returns the nearest chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (models.QueryContext, error)
}
